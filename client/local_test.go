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

package client

import (
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudScoreOrg/cloudscore/common"
)

func writeBuildContext(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "context.tar.gz")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	archive := gzip.NewWriter(file)
	_, err = archive.Write([]byte("FROM scratch\n"))
	require.NoError(t, err)
	require.NoError(t, archive.Close())
	return path
}

func testImageSpec(name, contextPath string) *ImageSpec {
	return &ImageSpec{
		Name:         name,
		ModelName:    "ames-housing-regression",
		ModelVersion: 3,
		Environment: &common.EnvironmentSpec{
			Name:         "ames-scoring-env",
			Dependencies: []string{"scikit-learn==0.19.1"},
		},
		ScorerEntry:      "scoring-api",
		BuildContextPath: contextPath,
	}
}

func TestLocalImageBuilderBuildsFromContext(t *testing.T) {
	runtime := common.NewMockContainerRuntime()
	builder := NewLocalImageBuilder(runtime)

	operationID, err := builder.CreateImage(testImageSpec("ames-scoring", writeBuildContext(t)))
	require.NoError(t, err)

	status, err := builder.GetImage(operationID)
	require.NoError(t, err)
	assert.Equal(t, common.ImageStateSucceeded, status.State)
	assert.Equal(t, "ames-scoring", status.ImageRef)
}

func TestLocalImageBuilderRecordsBuildFailure(t *testing.T) {
	runtime := common.NewMockContainerRuntime()
	builder := NewLocalImageBuilder(runtime)

	operationID, err := builder.CreateImage(testImageSpec(runtime.EvilImage, writeBuildContext(t)))
	require.NoError(t, err)

	status, err := builder.GetImage(operationID)
	require.NoError(t, err)
	assert.Equal(t, common.ImageStateFailed, status.State)
	assert.Contains(t, status.Detail, "Error building image")
}

func TestLocalImageBuilderRejectsMissingContext(t *testing.T) {
	builder := NewLocalImageBuilder(common.NewMockContainerRuntime())

	_, err := builder.CreateImage(testImageSpec("ames-scoring", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No build context path")
}

// localFixture runs an in-process stand-in for the scoring container: an HTTP server whose port
// the LocalWebServices under test hands to its first deployed service.
type localFixture struct {
	runtime  *common.MockContainerRuntime
	services *LocalWebServices
	server   *httptest.Server

	healthCode int32
}

func newLocalFixture(t *testing.T) *localFixture {
	f := &localFixture{
		runtime:    common.NewMockContainerRuntime(),
		healthCode: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&f.healthCode)))
	})
	mux.HandleFunc("/score", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": [224970.5]}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	parsed, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	f.services = NewLocalWebServices(f.runtime, 5001, port)

	// The runtime must know the image before it can run a service from it
	output, err := f.runtime.ImageBuild("ames-scoring", strings.NewReader(""))
	require.NoError(t, err)
	output.Close()
	return f
}

func (f *localFixture) deployRequest(overwrite bool) *DeployRequest {
	return &DeployRequest{
		Name:       "ames-housing-svc",
		ImageRef:   "ames-scoring",
		Descriptor: common.DeploymentDescriptor{CPUCores: 1, MemoryGB: 1},
		Overwrite:  overwrite,
	}
}

func TestLocalWebServicesDeployAndProbe(t *testing.T) {
	f := newLocalFixture(t)

	_, err := f.services.Deploy(f.deployRequest(false))
	require.NoError(t, err)

	status, err := f.services.GetService("ames-housing-svc")
	require.NoError(t, err)
	assert.Equal(t, common.ServiceStateHealthy, status.State)
	assert.Contains(t, status.ScoringURI, "/score")
}

func TestLocalWebServicesOverwriteSemantics(t *testing.T) {
	f := newLocalFixture(t)

	first, err := f.services.Deploy(f.deployRequest(false))
	require.NoError(t, err)

	_, err = f.services.Deploy(f.deployRequest(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrServiceExists.Error())

	second, err := f.services.Deploy(f.deployRequest(true))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLocalWebServicesUnhealthyProbe(t *testing.T) {
	f := newLocalFixture(t)
	atomic.StoreInt32(&f.healthCode, http.StatusServiceUnavailable)

	_, err := f.services.Deploy(f.deployRequest(false))
	require.NoError(t, err)

	status, err := f.services.GetService("ames-housing-svc")
	require.NoError(t, err)
	assert.Equal(t, common.ServiceStateUnhealthy, status.State)
	assert.Contains(t, status.Detail, "health probe replied")
}

func TestLocalWebServicesRun(t *testing.T) {
	f := newLocalFixture(t)

	_, err := f.services.Deploy(f.deployRequest(false))
	require.NoError(t, err)

	response, err := f.services.Run("ames-housing-svc", []byte(`{"data": {"Lot.Area": [31770]}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result": [224970.5]}`, string(response))
}

func TestLocalWebServicesDeleteUnloadsImage(t *testing.T) {
	f := newLocalFixture(t)

	_, err := f.services.Deploy(f.deployRequest(false))
	require.NoError(t, err)
	require.NoError(t, f.services.Delete("ames-housing-svc"))

	_, err = f.services.GetService("ames-housing-svc")
	require.Error(t, err)

	// The image was unloaded from the runtime along with the container
	_, err = f.runtime.RunService("ames-scoring", "another-svc", 15001, 5001)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown image")
}
