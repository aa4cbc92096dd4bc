/*
 * Copyright CloudScore Org. 2018
 *
 * contact@cloudscore.org
 *
 * This software is part of the CloudScore project, an open-source machine
 * learning deployment platform.
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
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/CloudScoreOrg/cloudscore/client"
	"github.com/CloudScoreOrg/cloudscore/common"
)

func main() {
	// Parses CLI flags to generate the sequencer config
	conf := NewDeployConfig()

	// Ledger configuration (a blank db-host means an in-memory ledger)
	ledger, err := SetLedger(conf)
	if err != nil {
		log.Fatalf("Cannot set ledger: %s", err)
	}

	if conf.History {
		records := []DeploymentRecord{}
		if err := ledger.List(&records, 0, 50); err != nil {
			log.Fatalf("Cannot list past deployments: %s", err)
		}
		for _, record := range records {
			fmt.Printf("%s  %-24s  %s v%d  %-10s  %s\n", record.StartedAt.Format("2006-01-02 15:04:05"), record.ServiceName, record.ModelName, record.ModelVersion, record.State, record.Diagnostic)
		}
		return
	}

	// Backend configuration
	workspace, registry, images, services, err := SetBackend(conf)
	if err != nil {
		log.Fatalf("Cannot set deployment backend: %s", err)
	}

	// Artifact store configuration (for the pre-deployment model sanity check)
	artifacts, err := SetArtifactStore(conf)
	if err != nil {
		log.Fatalf("Cannot set artifact store: %s", err)
	}

	sequencer := NewSequencer(conf, workspace, registry, images, services, artifacts, ledger)
	if err := sequencer.Run(); err != nil {
		log.Fatalf("Deployment of service %s failed: %s", conf.ServiceName, err)
	}
	log.Printf("Deployment of service %s succeeded", conf.ServiceName)
}

// SetLedger defines the ledger type (postgres or in-memory)
func SetLedger(conf *DeployConfig) (Ledger, error) {
	if conf.DBHost == "" {
		log.Println("[MockLedger] Deployments recorded in memory only")
		return NewMockLedger(), nil
	}

	db, err := sqlx.Connect(
		"postgres",
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d sslmode=disable dbname=%s",
			conf.DBUser, conf.DBPass, conf.DBHost, conf.DBPort, conf.DBName,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("Cannot open connection to database: %s", err)
	}

	n, err := RunMigrations(db, conf.DBMigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("Cannot apply database migrations: %s", err)
	}
	log.Printf("Applied %d database migrations successfully", n)

	return NewSQLLedger(db), nil
}

// SetBackend defines the deployment backend (the managed platform API, a local Docker daemon or
// mocks)
func SetBackend(conf *DeployConfig) (*client.Workspace, client.ModelRegistry, client.ImageBuilder, client.WebServices, error) {
	switch conf.Backend {
	case "api":
		workspaceConf, secrets, err := client.LoadWorkspaceConfig(conf.WorkspaceConfigPath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		workspace := client.NewWorkspace(workspaceConf, secrets)
		log.Printf("[Backend] Deploying through the platform API at %s:%d", workspaceConf.APIHost, workspaceConf.APIPort)
		return workspace,
			&client.RegistryAPI{Workspace: workspace},
			&client.ImageBuilderAPI{Workspace: workspace},
			&client.WebServicesAPI{Workspace: workspace},
			nil
	case "local":
		runtime, err := common.NewDockerRuntime(conf.DockerTimeout)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		log.Println("[Backend] Deploying on the local Docker daemon (model references resolved by mock)")
		return nil,
			client.NewRegistryAPIMock(),
			client.NewLocalImageBuilder(runtime),
			client.NewLocalWebServices(runtime, conf.ScoringPort, conf.BasePort),
			nil
	case "mock":
		log.Println("[Backend] Dry run against mocks, nothing will be deployed")
		return nil,
			client.NewRegistryAPIMock(),
			client.NewImageBuilderAPIMock(),
			client.NewWebServicesAPIMock(),
			nil
	}
	return nil, nil, nil, nil, fmt.Errorf("Unknown backend \"%s\". Allowed values are \"api\", \"local\" and \"mock\"", conf.Backend)
}

// SetArtifactStore defines where the model sanity check fetches the artifact from (the registry
// API, the local disk or S3)
func SetArtifactStore(conf *DeployConfig) (common.BlobStore, error) {
	switch {
	case conf.ArtifactStore == "s3" && conf.AWSBucket != "" && conf.AWSRegion != "":
		log.Println("[S3BlobStore] Artifacts fetched from Amazon S3")
		store, err := common.NewS3BlobStore(conf.AWSBucket, conf.AWSRegion)
		if err != nil {
			return nil, err
		}
		return store, nil
	case conf.ArtifactStore == "local":
		log.Println("[LocalBlobStore] Artifacts fetched from local disk")
		return common.NewLocalBlobStore(conf.DataDir)
	case conf.ArtifactStore == "registry" || conf.ArtifactStore == "":
		log.Println("[Registry] Artifacts fetched through the registry API")
		return nil, nil
	}
	return nil, fmt.Errorf("Unknown artifact store \"%s\". Allowed values are \"registry\", \"local\" and \"s3\"", conf.ArtifactStore)
}
