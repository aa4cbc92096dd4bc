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

package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/kelseyhightower/envconfig"
)

// Workspace HTTP API routes
const (
	WorkspaceHealthRoute = "/health"
)

// WorkspaceConfig identifies the remote workspace owning the models, images and services this
// client addresses. It is read once from a JSON file at process start and never mutated.
type WorkspaceConfig struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	WorkspaceName  string `json:"workspace_name"`
	APIHost        string `json:"api_host"`
	APIPort        int    `json:"api_port"`
}

// Check returns nil if the workspace config is complete, an explicit error otherwise
func (c *WorkspaceConfig) Check() (err error) {
	if c.SubscriptionID == "" {
		return fmt.Errorf("subscription_id field is unset")
	}
	if c.ResourceGroup == "" {
		return fmt.Errorf("resource_group field is unset")
	}
	if c.WorkspaceName == "" {
		return fmt.Errorf("workspace_name field is unset")
	}
	if c.APIHost == "" {
		return fmt.Errorf("api_host field is unset")
	}
	if c.APIPort <= 0 {
		return fmt.Errorf("api_port field is unset or invalid")
	}
	return nil
}

// WorkspaceSecrets carries the auth material the platform expects. Secrets never live in the
// workspace config file, they are picked up from CLOUDSCORE_* environment variables.
type WorkspaceSecrets struct {
	APIUser     string `envconfig:"API_USER"`
	APIPassword string `envconfig:"API_PASSWORD"`
}

// LoadWorkspaceConfig reads a workspace config file and overlays the auth secrets from the
// environment
func LoadWorkspaceConfig(path string) (*WorkspaceConfig, *WorkspaceSecrets, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("[workspace] Error opening workspace config %s: %s", path, err)
	}
	defer file.Close()

	conf := &WorkspaceConfig{}
	if err := json.NewDecoder(file).Decode(conf); err != nil {
		return nil, nil, fmt.Errorf("[workspace] Error un-marshaling workspace config %s: %s", path, err)
	}
	if err := conf.Check(); err != nil {
		return nil, nil, fmt.Errorf("[workspace] Invalid workspace config %s: %s", path, err)
	}

	secrets := &WorkspaceSecrets{}
	if err := envconfig.Process("cloudscore", secrets); err != nil {
		return nil, nil, fmt.Errorf("[workspace] Error reading workspace secrets from environment: %s", err)
	}

	return conf, secrets, nil
}

// Workspace is the authenticated handle every other platform client goes through. It owns the
// platform's base URL and credentials.
type Workspace struct {
	Conf WorkspaceConfig

	user     string
	password string
}

// NewWorkspace builds a workspace handle from a config and its secrets
func NewWorkspace(conf *WorkspaceConfig, secrets *WorkspaceSecrets) *Workspace {
	return &Workspace{
		Conf:     *conf,
		user:     secrets.APIUser,
		password: secrets.APIPassword,
	}
}

// URL builds an absolute platform URL for the given workspace-relative route
func (w *Workspace) URL(route string) string {
	return fmt.Sprintf("http://%s:%d/workspace/%s%s", w.Conf.APIHost, w.Conf.APIPort, w.Conf.WorkspaceName, route)
}

// Do performs an HTTP request against the platform, credentials attached
func (w *Workspace) Do(req *http.Request) (*http.Response, error) {
	if w.user != "" {
		req.SetBasicAuth(w.user, w.password)
	}
	req.Header.Set("X-Subscription-Id", w.Conf.SubscriptionID)
	req.Header.Set("X-Resource-Group", w.Conf.ResourceGroup)
	return http.DefaultClient.Do(req)
}

// Attach verifies that the workspace is reachable and that the credentials are accepted. It is the
// mandatory first step of any deployment sequence: auth and config errors abort here, before any
// other remote call is attempted.
func (w *Workspace) Attach() error {
	url := w.URL(WorkspaceHealthRoute)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("[workspace] Error building GET request against %s: %s", url, err)
	}

	resp, err := w.Do(req)
	if err != nil {
		return fmt.Errorf("[workspace] Error reaching workspace %s: %s", w.Conf.WorkspaceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("[workspace] Credentials rejected by workspace %s (%s)", w.Conf.WorkspaceName, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("[workspace] Bad status code (%s) attaching to workspace %s", resp.Status, w.Conf.WorkspaceName)
	}
	return nil
}
