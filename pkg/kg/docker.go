// Copyright 2025 The Wastepro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kg

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/logger"
)

const (
	neo4jImage     = "neo4j:community"
	neo4jHTTPPort  = 7474
	neo4jBoltPort  = 7687
	startupTimeout = 180 * time.Second
)

// DockerOrchestrator runs one Neo4j container per subject through the
// docker CLI. Each subject's data lives under <datapath>/neo4j_KGs/<name>
// and is bind-mounted into the container, so a stopped subject can be
// reopened later with its graph intact.
type DockerOrchestrator struct {
	hostname string
	datapath string
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]AccessPoint
}

// NewDockerOrchestrator builds the orchestrator from the [service.kg] table.
func NewDockerOrchestrator(cfg config.KGServiceConfig, log *slog.Logger) *DockerOrchestrator {
	return &DockerOrchestrator{
		hostname: cfg.Hostname,
		datapath: cfg.Datapath,
		log:      log,
		running:  make(map[string]AccessPoint),
	}
}

// Create brings the subject's container up. A container already started by
// this process is reused; a stale one left over from a previous run is
// removed first so the published ports are known.
func (o *DockerOrchestrator) Create(ctx context.Context, name string) (AccessPoint, error) {
	o.mu.Lock()
	if access, ok := o.running[name]; ok {
		o.mu.Unlock()
		return access, nil
	}
	o.mu.Unlock()

	return o.start(ctx, name)
}

// Open restarts the subject from its persisted data: any running container
// is stopped first, then a fresh one is created over the same volume.
func (o *DockerOrchestrator) Open(ctx context.Context, name string) (AccessPoint, error) {
	if err := o.Stop(ctx, name); err != nil {
		return AccessPoint{}, err
	}
	return o.start(ctx, name)
}

func (o *DockerOrchestrator) start(ctx context.Context, name string) (AccessPoint, error) {
	// Remove leftovers from a previous process. Errors here just mean
	// there was nothing to remove.
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", containerName(name)).Run()

	httpPort, err := freePort(neo4jHTTPPort)
	if err != nil {
		return AccessPoint{}, err
	}
	boltPort, err := freePort(neo4jBoltPort)
	if err != nil {
		return AccessPoint{}, err
	}

	volume := filepath.Join(o.datapath, "neo4j_KGs", name)
	if err := os.MkdirAll(volume, 0o755); err != nil {
		return AccessPoint{}, fmt.Errorf("create graph data directory: %w", err)
	}

	args := []string{
		"run", "-d",
		"--name", containerName(name),
		"-e", "NEO4J_AUTH=none",
		"-p", fmt.Sprintf("%d:%d", httpPort, neo4jHTTPPort),
		"-p", fmt.Sprintf("%d:%d", boltPort, neo4jBoltPort),
		"-v", volume + ":/data",
		neo4jImage,
	}
	logger.Verbose(o.log, "starting graph container", "kg", name, "args", strings.Join(args, " "))
	if out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput(); err != nil {
		return AccessPoint{}, fmt.Errorf("docker run %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}

	access := AccessPoint{
		HTTPURL: fmt.Sprintf("http://%s:%d", o.hostname, httpPort),
		BoltURL: fmt.Sprintf("bolt://%s:%d", o.hostname, boltPort),
	}
	if err := o.waitReady(ctx, access.HTTPURL); err != nil {
		_ = exec.CommandContext(ctx, "docker", "rm", "-f", containerName(name)).Run()
		return AccessPoint{}, err
	}

	o.mu.Lock()
	o.running[name] = access
	o.mu.Unlock()

	o.log.Info("graph instance ready", "kg", name, "http_url", access.HTTPURL, "bolt_url", access.BoltURL)
	return access, nil
}

// waitReady polls the HTTP endpoint until Neo4j answers 200.
func (o *DockerOrchestrator) waitReady(ctx context.Context, httpURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(startupTimeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("timed out waiting for neo4j at %s", httpURL)
}

// List returns the subjects with persisted data, running or not.
func (o *DockerOrchestrator) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(o.datapath, "neo4j_KGs"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list graph data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stop removes the subject's container. The data volume stays on disk.
func (o *DockerOrchestrator) Stop(ctx context.Context, name string) error {
	o.mu.Lock()
	delete(o.running, name)
	o.mu.Unlock()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", containerName(name)).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		return fmt.Errorf("docker rm %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func containerName(kgName string) string {
	return "wastepro-kg-" + kgName
}

// freePort probes upward from start for a port nothing is listening on.
func freePort(start int) (int, error) {
	for port := start; port < start+1000; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port found above %d", start)
}
