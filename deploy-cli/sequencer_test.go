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
	"strings"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudScoreOrg/cloudscore/client"
	"github.com/CloudScoreOrg/cloudscore/common"
)

type sequencerFixture struct {
	conf     *DeployConfig
	registry *client.RegistryAPIMock
	images   *client.ImageBuilderAPIMock
	services *client.WebServicesAPIMock
	ledger   *MockLedger

	sequencer *Sequencer
}

func newSequencerFixture() *sequencerFixture {
	conf := &DeployConfig{
		ModelName:    "ames-housing-regression",
		ModelVersion: 0,

		ImageName:   "ames-housing-scoring",
		EnvSpecPath: "testdata/scoring-env.yml",
		ScorerEntry: "scoring-api",

		ServiceName: "ames-housing-svc",
		CPUCores:    1,
		MemoryGB:    1,
		Description: "test deployment",

		SampleRequestPath: "testdata/sample-request.json",

		PollInterval:  time.Millisecond,
		ImageTimeout:  100 * time.Millisecond,
		DeployTimeout: 100 * time.Millisecond,
	}

	f := &sequencerFixture{
		conf:     conf,
		registry: client.NewRegistryAPIMock(),
		images:   client.NewImageBuilderAPIMock(),
		services: client.NewWebServicesAPIMock(),
		ledger:   NewMockLedger(),
	}
	f.sequencer = NewSequencer(conf, nil, f.registry, f.images, f.services, nil, f.ledger)
	return f
}

func (f *sequencerFixture) lastRecord(t *testing.T) DeploymentRecord {
	require.NotEmpty(t, f.ledger.Records)
	return f.ledger.Records[len(f.ledger.Records)-1]
}

func TestSequencerSuccess(t *testing.T) {
	f := newSequencerFixture()

	err := f.sequencer.Run()
	require.NoError(t, err)

	record := f.lastRecord(t)
	assert.Equal(t, RunStateSucceeded, record.State)
	assert.Empty(t, record.Diagnostic)
	assert.False(t, record.DoneAt.IsZero())
}

func TestSequencerUnknownModel(t *testing.T) {
	f := newSequencerFixture()
	f.conf.ModelName = f.registry.UnknownModel

	err := f.sequencer.Run()
	require.Error(t, err)

	record := f.lastRecord(t)
	assert.Equal(t, RunStateFailed, record.State)
	assert.Contains(t, record.Diagnostic, f.registry.UnknownModel)
}

func TestSequencerImageBuildFailureSurfacesBuildLog(t *testing.T) {
	f := newSequencerFixture()
	f.conf.ImageName = f.images.EvilImageName

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Image build failed")
	assert.Contains(t, err.Error(), f.images.BuildLogURI)

	record := f.lastRecord(t)
	assert.Equal(t, RunStateFailed, record.State)
}

func TestSequencerExistingServiceConflict(t *testing.T) {
	f := newSequencerFixture()
	f.conf.ServiceName = f.services.ExistingService

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), client.ErrServiceExists.Error())
	assert.Equal(t, RunStateFailed, f.lastRecord(t).State)
}

func TestSequencerOverwriteExistingService(t *testing.T) {
	f := newSequencerFixture()
	f.conf.ServiceName = f.services.ExistingService
	f.conf.Overwrite = true

	err := f.sequencer.Run()
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, f.lastRecord(t).State)
}

func TestSequencerDeployTimeoutIsNotAFailure(t *testing.T) {
	f := newSequencerFixture()
	f.conf.DeployTimeout = 20 * time.Millisecond
	f.services.StateSequence = []string{common.ServiceStateDeploying}

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	record := f.lastRecord(t)
	assert.Equal(t, RunStateTimedOut, record.State)
}

func TestSequencerUnhealthyService(t *testing.T) {
	f := newSequencerFixture()
	f.services.StateSequence = []string{common.ServiceStateDeploying, common.ServiceStateUnhealthy}

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), common.ServiceStateUnhealthy)

	record := f.lastRecord(t)
	assert.Equal(t, RunStateFailed, record.State)
}

func TestSequencerFailedService(t *testing.T) {
	f := newSequencerFixture()
	f.services.StateSequence = []string{common.ServiceStateFailed}

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), common.ServiceStateFailed)
	assert.Equal(t, RunStateFailed, f.lastRecord(t).State)
}

func TestSequencerArtifactStoreSanityCheck(t *testing.T) {
	f := newSequencerFixture()

	// The mock registry resolves version 0 to version 3
	store := common.NewMockBlobStore()
	require.NoError(t, store.Put(
		"model/ames-housing-regression/3",
		strings.NewReader(`{
			"name": "ames-housing-regression",
			"columns": ["Lot.Area", "Gr.Liv.Area"],
			"coefficients": {"Lot.Area": 1.5, "Gr.Liv.Area": 80.0},
			"intercept": 12500.0
		}`),
		0,
	))
	f.sequencer.Artifacts = store

	err := f.sequencer.Run()
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, f.lastRecord(t).State)
}

func TestSequencerRejectsCorruptArtifact(t *testing.T) {
	f := newSequencerFixture()

	store := common.NewMockBlobStore()
	require.NoError(t, store.Put("model/ames-housing-regression/3", strings.NewReader("truncated garbag"), 0))
	f.sequencer.Artifacts = store

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a loadable model")
	assert.Equal(t, RunStateFailed, f.lastRecord(t).State)
}

func TestSequencerMissingArtifact(t *testing.T) {
	f := newSequencerFixture()
	f.sequencer.Artifacts = common.NewMockBlobStore()

	err := f.sequencer.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error fetching artifact")
}

func TestMockLedgerUpdate(t *testing.T) {
	ledger := NewMockLedger()

	record := &DeploymentRecord{ServiceName: "svc-a", State: RunStateRunning}
	require.NoError(t, ledger.Insert(record))

	record.State = RunStateSucceeded
	require.NoError(t, ledger.Update(record))

	records := []DeploymentRecord{}
	require.NoError(t, ledger.List(&records, 0, 10))
	require.Len(t, records, 1)
	assert.Equal(t, RunStateSucceeded, records[0].State)
}

func TestMockLedgerPagination(t *testing.T) {
	ledger := NewMockLedger()
	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.Insert(&DeploymentRecord{
			ID:          uuid.NewV4(),
			ServiceName: fmt.Sprintf("svc-%d", i),
			State:       RunStateRunning,
		}))
	}

	page := []DeploymentRecord{}
	require.NoError(t, ledger.List(&page, 0, 2))
	require.Len(t, page, 2)
	assert.Equal(t, "svc-4", page[0].ServiceName)
	assert.Equal(t, "svc-3", page[1].ServiceName)

	page = []DeploymentRecord{}
	require.NoError(t, ledger.List(&page, 2, 2))
	require.Len(t, page, 1)
	assert.Equal(t, "svc-0", page[0].ServiceName)

	page = []DeploymentRecord{}
	require.NoError(t, ledger.List(&page, 3, 2))
	assert.Empty(t, page)
}
