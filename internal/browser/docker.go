package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/playwright-community/playwright-go"
)

const containerName = "archibridge-browser"

// cdpRuntime runs the browser inside a browserless/chrome container and
// attaches to it over the Chrome DevTools Protocol. Useful when the host
// cannot run Chromium directly or when the browser should outlive
// restarts of this process's sandbox.
type cdpRuntime struct {
	mu          sync.Mutex
	cfg         RuntimeConfig
	logger      *slog.Logger
	cli         *client.Client
	pw          *playwright.Playwright
	browser     playwright.Browser
	containerID string
	port        string
}

func newCDPRuntime(cfg RuntimeConfig) (Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &cdpRuntime{cfg: cfg, logger: cfg.Logger, cli: cli}, nil
}

func (r *cdpRuntime) Name() string { return DriverCDP }

func (r *cdpRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.browser.IsConnected() {
		return nil
	}

	if err := r.ensureImage(ctx); err != nil {
		return fmt.Errorf("failed to ensure browser image: %w", err)
	}

	profileDir := filepath.Join(r.cfg.DataDir, "browser-profile")
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return fmt.Errorf("failed to create browser profile directory: %w", err)
	}

	containerConfig := &container.Config{
		Image: r.cfg.Image,
		Labels: map[string]string{
			"managed-by": "archibridge",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=10",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: profileDir,
				Target: "/data",
			},
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create browser container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.removeContainer(ctx, resp.ID)
		return fmt.Errorf("failed to start browser container: %w", err)
	}

	inspect, err := r.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		r.removeContainer(ctx, resp.ID)
		return fmt.Errorf("failed to inspect browser container: %w", err)
	}
	port := inspect.NetworkSettings.Ports["3000/tcp"][0].HostPort

	if err := r.waitForBrowserReady(port); err != nil {
		r.removeContainer(ctx, resp.ID)
		return fmt.Errorf("browser failed to become ready: %w", err)
	}

	opts := &playwright.RunOptions{
		SkipInstallBrowsers: true,
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		r.removeContainer(ctx, resp.ID)
		return fmt.Errorf("failed to install playwright driver: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		r.removeContainer(ctx, resp.ID)
		return fmt.Errorf("failed to start playwright driver: %w", err)
	}

	browser, err := pw.Chromium.ConnectOverCDP("ws://localhost:" + port)
	if err != nil {
		pw.Stop()
		r.removeContainer(ctx, resp.ID)
		return fmt.Errorf("failed to connect over cdp: %w", err)
	}

	r.pw = pw
	r.browser = browser
	r.containerID = resp.ID
	r.port = port
	r.logger.Info("browser container ready", "driver", DriverCDP, "container", resp.ID[:12], "port", port)
	return nil
}

func (r *cdpRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.logger.Warn("failed to close cdp connection", "error", err)
		}
		r.browser = nil
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			r.logger.Warn("failed to stop playwright driver", "error", err)
		}
		r.pw = nil
	}
	if r.containerID != "" {
		if err := r.removeContainer(ctx, r.containerID); err != nil {
			return err
		}
		r.containerID = ""
		r.port = ""
	}
	return nil
}

func (r *cdpRuntime) removeContainer(ctx context.Context, id string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}
	if err := r.cli.ContainerStop(ctx, id, stopOptions); err != nil {
		return fmt.Errorf("failed to stop browser container: %w", err)
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove browser container: %w", err)
	}
	return nil
}

func (r *cdpRuntime) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser != nil && r.browser.IsConnected()
}

func (r *cdpRuntime) NewSession(ctx context.Context) (Session, error) {
	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()
	return newPWSession(browser, r.cfg)
}

func (r *cdpRuntime) ensureImage(ctx context.Context) error {
	images, err := r.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == r.cfg.Image {
				return nil
			}
		}
	}

	r.logger.Info("pulling browser image", "image", r.cfg.Image)
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// waitForBrowserReady polls the DevTools version endpoint until the
// container accepts connections.
func (r *cdpRuntime) waitForBrowserReady(port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	maxRetries := 20 // 10 seconds total (20 * 500ms)

	for i := 0; i < maxRetries; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				// Give the websocket endpoint a moment to come up too.
				time.Sleep(500 * time.Millisecond)
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}
