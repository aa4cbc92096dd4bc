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

import "flag"

// ScoringConfig holds the configuration variables for the scoring API
type ScoringConfig struct {
	// API Server settings
	Hostname string
	Port     int
	CertFile string
	KeyFile  string

	// Model artifact to serve
	ModelPath string

	// Authentification (leave user blank to serve without auth, the hosting
	// platform usually fronts it)
	APIUser     string
	APIPassword string
}

// TLSOn returns true if TLS credentials have been provided. The API will then
// serve requests over TLS.
func (c *ScoringConfig) TLSOn() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// NewScoringConfig computes the configuration object parsing CLI flags
func NewScoringConfig() (conf *ScoringConfig) {
	var (
		hostname string
		port     int
		certFile string
		keyFile  string

		modelPath string

		apiUser     string
		apiPassword string
	)

	// CLI Flags
	flag.StringVar(&hostname, "host", "0.0.0.0", "The hostname our server will be listening on")
	flag.IntVar(&port, "port", 5001, "The port our scoring API will be listening on")
	flag.StringVar(&certFile, "cert", "", "The TLS certs to serve to clients (leave blank for no TLS)")
	flag.StringVar(&keyFile, "key", "", "The TLS key used to encrypt connection (leave blank for no TLS)")

	flag.StringVar(&modelPath, "model", "/var/lib/cloudscore/model.json", "Path of the serialized model artifact to serve")

	flag.StringVar(&apiUser, "user", "", "The username for Basic Authentification (leave blank to disable auth)")
	flag.StringVar(&apiPassword, "password", "", "The password for Basic Authentification")

	flag.Parse()

	// Let's create the config structure
	conf = &ScoringConfig{
		Hostname: hostname,
		Port:     port,
		CertFile: certFile,
		KeyFile:  keyFile,

		ModelPath: modelPath,

		APIUser:     apiUser,
		APIPassword: apiPassword,
	}
	return
}
