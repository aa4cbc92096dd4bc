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
	"log"
	"os"
	"testing"

	"github.com/CloudScoreOrg/cloudscore/common"
	"gopkg.in/kataras/iris.v6"
	"gopkg.in/kataras/iris.v6/adaptors/httprouter"
	"gopkg.in/kataras/iris.v6/httptest"
)

var app *iris.Framework

func setTestApp() *iris.Framework {
	artifact, err := os.Open("testdata/model.json")
	if err != nil {
		log.Fatalf("Cannot open test model artifact: %s", err)
	}
	defer artifact.Close()

	model, err := common.LoadModel(artifact)
	if err != nil {
		log.Fatalf("Cannot load test model artifact: %s", err)
	}

	testApp := iris.New()
	testApp.Adapt(httprouter.New())

	server := &ScoringServer{
		Conf:  &ScoringConfig{},
		Model: model,
	}
	server.ConfigureRoutes(testApp, nil)
	return testApp
}

func TestMain(m *testing.M) {
	app = setTestApp()
	os.Exit(m.Run())
}

// Test valid Root request returns Success
func TestRootRoute(t *testing.T) {
	e := httptest.New(app, t)
	e.GET(RootRoute).Expect().Status(200)
}

// Test valid Health request returns Success
func TestHealthRoute(t *testing.T) {
	e := httptest.New(app, t)
	e.GET(HealthRoute).Expect().Status(200).JSON().Equal(map[string]interface{}{"status": "ok"})
}

func TestScoreWellFormedRequest(t *testing.T) {
	e := httptest.New(app, t)

	// Two rows in, two predictions out, in row order
	body := e.POST(ScoreRoute).
		WithBytes([]byte(`{"data": {"Lot.Area": [8070, 8712], "Gr.Liv.Area": [990, 1178]}}`)).
		Expect().Status(200).JSON().Object()

	body.NotContainsKey("error")
	results := body.Value("result").Array()
	results.Length().Equal(2)

	// 12500 + 1.5*8070 + 80*990 and 12500 + 1.5*8712 + 80*1178 with the testdata weights
	results.Element(0).Number().Equal(103805.0)
	results.Element(1).Number().Equal(119808.0)
}

func TestScoreMalformedJSON(t *testing.T) {
	e := httptest.New(app, t)

	// Still a 200: scoring failures never surface at the transport layer
	body := e.POST(ScoreRoute).
		WithBytes([]byte(`not valid json`)).
		Expect().Status(200).JSON().Object()

	body.ContainsKey("error")
	body.NotContainsKey("result")
}

func TestScoreMissingDataKey(t *testing.T) {
	e := httptest.New(app, t)

	body := e.POST(ScoreRoute).
		WithBytes([]byte(`{"rows": [1, 2, 3]}`)).
		Expect().Status(200).JSON().Object()

	body.ContainsKey("error")
}

func TestScoreMismatchedColumns(t *testing.T) {
	e := httptest.New(app, t)

	// Three rows on one column, two on the other: no partial result, only an error
	body := e.POST(ScoreRoute).
		WithBytes([]byte(`{"data": {"Lot.Area": [8070, 8712, 9000], "Gr.Liv.Area": [990, 1178]}}`)).
		Expect().Status(200).JSON().Object()

	body.ContainsKey("error")
	body.NotContainsKey("result")
}

func TestScoreUnknownColumn(t *testing.T) {
	e := httptest.New(app, t)

	body := e.POST(ScoreRoute).
		WithBytes([]byte(`{"data": {"Lot.Area": [8070], "Gr.Liv.Area": [990], "Pool.Area": [0]}}`)).
		Expect().Status(200).JSON().Object()

	body.ContainsKey("error")
}

func TestScoreIdempotent(t *testing.T) {
	e := httptest.New(app, t)
	payload := []byte(`{"data": {"Lot.Area": [8070, 8712], "Gr.Liv.Area": [990, 1178]}}`)

	first := e.POST(ScoreRoute).WithBytes(payload).Expect().Status(200).Body().Raw()
	second := e.POST(ScoreRoute).WithBytes(payload).Expect().Status(200).Body().Raw()

	if first != second {
		t.Errorf("Same request yielded different responses:\n%s\n%s", first, second)
	}
}
