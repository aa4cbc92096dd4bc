package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"
)

// Model registry HTTP API routes
const (
	RegistryModelRoute = "/model"
	BlobSuffix         = "blob"
)

// ModelReference is a named pointer to a trained artifact already registered on the platform. The
// registry owns it, this client only ever reads it.
type ModelReference struct {
	Name         string    `json:"name"`
	Version      int       `json:"version"`
	ArtifactKey  string    `json:"artifact_key"`
	RegisteredAt time.Time `json:"timestamp_registration"`
}

// ModelRegistry describes the platform's model registry API
type ModelRegistry interface {
	GetModel(name string, version int) (ref *ModelReference, err error)
	GetModelArtifact(ref *ModelReference) (artifactReader io.ReadCloser, err error)
}

// RegistryAPI is a wrapper around the platform's model registry HTTP API
type RegistryAPI struct {
	ModelRegistry

	Workspace *Workspace
}

// GetModel resolves a model reference by name. A version of 0 (or below) addresses the latest
// registered version.
func (r *RegistryAPI) GetModel(name string, version int) (ref *ModelReference, err error) {
	url := r.Workspace.URL(fmt.Sprintf("%s/%s", RegistryModelRoute, name))
	if version > 0 {
		url = fmt.Sprintf("%s?version=%d", url, version)
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("[registry-api] Error building GET request against %s: %s", url, err)
	}

	resp, err := r.Workspace.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[registry-api] Error performing GET request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("[registry-api] Model %s (version %d) not found in registry", name, version)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("[registry-api] Bad status code (%s) performing GET request against %s", resp.Status, url)
	}

	ref = &ModelReference{}
	if err = json.NewDecoder(resp.Body).Decode(ref); err != nil {
		return nil, fmt.Errorf("[registry-api] Error un-marshaling model reference retrieved from %s: %s", url, err)
	}
	return ref, nil
}

// GetModelArtifact returns an io.ReadCloser on the serialized model artifact, used for the local
// sanity check before a deployment
func (r *RegistryAPI) GetModelArtifact(ref *ModelReference) (artifactReader io.ReadCloser, err error) {
	url := r.Workspace.URL(fmt.Sprintf("%s/%s/%d/%s", RegistryModelRoute, ref.Name, ref.Version, BlobSuffix))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("[registry-api] Error building GET request against %s: %s", url, err)
	}

	resp, err := r.Workspace.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[registry-api] Error performing GET request against %s: %s", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("[registry-api] Bad status code (%s) performing GET request against %s", resp.Status, url)
	}

	return resp.Body, nil
}

// RegistryAPIMock is a mock of the model registry API (for tests & local dev. purposes)
type RegistryAPIMock struct {
	ModelRegistry

	UnknownModel string
}

// NewRegistryAPIMock instantiates our mock of the model registry API
func NewRegistryAPIMock() (r *RegistryAPIMock) {
	return &RegistryAPIMock{
		UnknownModel: "model-that-was-never-registered",
	}
}

// GetModel returns a fixed model reference, no matter the name (except for the unknown one)
func (r *RegistryAPIMock) GetModel(name string, version int) (ref *ModelReference, err error) {
	if name == r.UnknownModel {
		return nil, fmt.Errorf("[registry-mock] Model %s not found in registry", name)
	}
	if version <= 0 {
		version = 3
	}
	return &ModelReference{
		Name:         name,
		Version:      version,
		ArtifactKey:  fmt.Sprintf("model/%s/%d", name, version),
		RegisteredAt: time.Date(2018, 6, 12, 10, 0, 0, 0, time.UTC),
	}, nil
}

// GetModelArtifact returns a small but well-formed serialized regression artifact
func (r *RegistryAPIMock) GetModelArtifact(ref *ModelReference) (artifactReader io.ReadCloser, err error) {
	if ref.Name == r.UnknownModel {
		return nil, fmt.Errorf("[registry-mock] No artifact for model %s", ref.Name)
	}
	artifact := map[string]interface{}{
		"name":    ref.Name,
		"columns": []string{"Lot.Area", "Gr.Liv.Area"},
		"coefficients": map[string]float64{
			"Lot.Area":    1.5,
			"Gr.Liv.Area": 80.0,
		},
		"intercept": 12500.0,
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		return nil, err
	}
	return ioutil.NopCloser(bytes.NewReader(raw)), nil
}
