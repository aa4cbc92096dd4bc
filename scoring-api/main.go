/*
 * Copyright CloudScore Org. 2018
 *
 * contact@cloudscore.org
 *
 * This software is part of the CloudScore project, an open-source machine
 * learning deployment toolkit.
 *
 * This software is governed by the CeCILL license, compatible with the
 * GNU GPL, under French law and abiding by the rules of distribution of
 * free software. You can  use, modify and/ or redistribute the software
 * under the terms of the CeCILL license as circulated by CEA, CNRS and
 * INRIA at the following URL "http://www.cecill.info".
 *
 * As a counterpart to the access to the source code and  rights to copy,
 * modify and redistribute granted by the license, users are provided only
 * with a limited warranty  and the software's author,  the holder of the
 * economic rights,  and the successive licensors  have only  limited
 * liability.
 *
 * In this respect, the user's attention is drawn to the risks associated
 * with loading,  using,  modifying and/or developing or reproducing the
 * software by the user in light of its specific status of free software,
 * that may mean  that it is complicated to manipulate,  and  that  also
 * therefore means  that it is reserved for developers  and  experienced
 * professionals having in-depth computer knowledge. Users are therefore
 * encouraged to load and test the software's suitability as regards their
 * requirements in conditions enabling the security of their systems and/or
 * data to be ensured and,  more generally, to use and operate it in the
 * same conditions as regards security.
 *
 * The fact that you are presently reading this means that you have had
 * knowledge of the CeCILL license and that you accept its terms.
 */

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/kataras/iris.v6"
	"gopkg.in/kataras/iris.v6/adaptors/cors"
	"gopkg.in/kataras/iris.v6/adaptors/httprouter"
	"gopkg.in/kataras/iris.v6/middleware/basicauth"
	"gopkg.in/kataras/iris.v6/middleware/logger"

	"github.com/CloudScoreOrg/cloudscore/common"
)

// Available HTTP routes
const (
	RootRoute   = "/"
	HealthRoute = "/health"
	ScoreRoute  = "/score"
)

// ScoringServer is the scoring adapter: it owns the model loaded once at startup and answers
// prediction requests with it. The model is read-only after initialization, so it is safe for
// however many request-handling goroutines the server spawns.
type ScoringServer struct {
	Conf  *ScoringConfig
	Model *common.LinearModel
}

// ConfigureRoutes links the urls with the func and sets authentication (pass nil to serve open)
func (s *ScoringServer) ConfigureRoutes(app *iris.Framework, authentication iris.HandlerFunc) {
	app.Get(RootRoute, s.index)
	app.Get(HealthRoute, s.health)

	if authentication != nil {
		app.Post(ScoreRoute, authentication, s.score)
	} else {
		app.Post(ScoreRoute, s.score)
	}
}

// SetAuthentication returns the app authentication
func SetAuthentication(user, password string) iris.HandlerFunc {
	authConfig := basicauth.Config{
		Users:      map[string]string{user: password},
		Realm:      "Authorization Required",
		ContextKey: "scoringauth",
		Expires:    time.Duration(30) * time.Minute,
	}
	return basicauth.New(authConfig)
}

func main() {
	// Parses CLI flags to generate the scoring API config
	conf := NewScoringConfig()

	// Iris setup
	app := iris.New()
	app.Adapt(iris.DevLogger(), httprouter.New())

	// Iris CORS middleware
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	app.Adapt(corsMiddleware)

	// Logging middleware configuration
	customLogger := logger.New(logger.Config{
		Status: true,
		IP:     true,
		Method: true,
		Path:   true,
	})
	app.Use(customLogger)

	// Load the model artifact exactly once. If it can't be located or deserialized the process
	// dies here and the container never becomes healthy.
	artifact, err := os.Open(conf.ModelPath)
	if err != nil {
		log.Fatalf("Cannot open model artifact %s: %s", conf.ModelPath, err)
	}
	model, err := common.LoadModel(artifact)
	artifact.Close()
	if err != nil {
		log.Fatalf("Cannot load model artifact %s: %s", conf.ModelPath, err)
	}
	log.Printf("[INFO] Model %s loaded (%d feature columns)", model.Name, len(model.Columns))

	server := &ScoringServer{
		Conf:  conf,
		Model: model,
	}

	var authentication iris.HandlerFunc
	if conf.APIUser != "" {
		authentication = SetAuthentication(conf.APIUser, conf.APIPassword)
	}
	server.ConfigureRoutes(app, authentication)

	// Main server loop
	if conf.TLSOn() {
		app.ListenTLS(fmt.Sprintf("%s:%d", conf.Hostname, conf.Port), conf.CertFile, conf.KeyFile)
	} else {
		app.Listen(fmt.Sprintf("%s:%d", conf.Hostname, conf.Port))
	}
}

// misc routes
func (s *ScoringServer) index(c *iris.Context) {
	c.JSON(200, []string{
		RootRoute,
		HealthRoute,
		ScoreRoute,
	})
}

func (s *ScoringServer) health(c *iris.Context) {
	// The model is loaded before the server starts listening, so a reachable server is a
	// healthy one
	c.JSON(200, map[string]string{"status": "ok"})
}

// score answers a prediction request. Every failure (malformed JSON, missing "data" key, column
// mismatch) is caught and returned as {"error": "..."} with a 200 status code: discriminating
// business-logic failures is left entirely to the caller inspecting the body.
func (s *ScoringServer) score(c *iris.Context) {
	request := common.ScoreRequest{}
	err := json.NewDecoder(c.Request.Body).Decode(&request)
	defer c.Request.Body.Close()
	if err != nil {
		c.JSON(200, common.NewScoreError(fmt.Errorf("Error un-marshaling score request: %s", err)))
		return
	}

	predictions, err := s.Model.Predict(&request)
	if err != nil {
		c.JSON(200, common.NewScoreError(err))
		return
	}

	c.JSON(200, common.NewScoreResult(predictions))
}
