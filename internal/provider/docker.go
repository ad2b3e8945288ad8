package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"

	"opshub/internal/docker"
	"opshub/internal/git"
	"opshub/internal/models"
)

// DockerProvider runs previews as local containers: it checks out the PR
// branch, builds the repository's Dockerfile, and runs the image with a
// host port from a configured range.
type DockerProvider struct {
	gitClient    *git.Client
	dockerClient *docker.Client
	portStart    int
	portEnd      int
	logger       *slog.Logger
}

// dockerSettings are the provider config settings the docker backend understands
type dockerSettings struct {
	Dockerfile    string `json:"dockerfile,omitempty"`
	BuildContext  string `json:"buildContext,omitempty"`
	ContainerPort int    `json:"containerPort,omitempty"`
}

// NewDockerProvider creates a docker backend
func NewDockerProvider(gitClient *git.Client, dockerClient *docker.Client, portStart, portEnd int) *DockerProvider {
	return &DockerProvider{
		gitClient:    gitClient,
		dockerClient: dockerClient,
		portStart:    portStart,
		portEnd:      portEnd,
		logger:       slog.Default().With("provider", "docker"),
	}
}

// Kind returns the provider kind
func (p *DockerProvider) Kind() models.ProviderKind {
	return models.ProviderDocker
}

// CreatePreview clones the branch, builds the image, and starts a container
func (p *DockerProvider) CreatePreview(ctx context.Context, input CreatePreviewInput) (*CreatePreviewResult, error) {
	settings := dockerSettings{
		Dockerfile:    "Dockerfile",
		ContainerPort: 3000,
	}
	if len(input.Settings) > 0 {
		if err := json.Unmarshal(input.Settings, &settings); err != nil {
			return nil, fmt.Errorf("invalid docker provider settings: %w", err)
		}
		if settings.Dockerfile == "" {
			settings.Dockerfile = "Dockerfile"
		}
		if settings.ContainerPort == 0 {
			settings.ContainerPort = 3000
		}
	}

	repoURL := input.RepoURL
	if repoURL == "" {
		repoURL = fmt.Sprintf("https://github.com/%s.git", input.RepoFullName)
	}

	repo, err := p.gitClient.CloneOrPull(ctx, git.CloneOptions{
		URL:      repoURL,
		Branch:   input.Branch,
		Depth:    1,
		Progress: io.Discard,
	})
	if err != nil {
		return nil, NewStatusError(0, fmt.Sprintf("checkout failed: %v", err))
	}

	commit, err := p.gitClient.GetHeadCommit(repo)
	if err != nil {
		return nil, NewStatusError(0, fmt.Sprintf("failed to resolve HEAD: %v", err))
	}

	imageTag := fmt.Sprintf("opshub/%s-pr%d:%s",
		sanitizeSlug(input.ProjectSlug), input.PRNumber, commit.Hash.String()[:12])

	repoPath := p.gitClient.RepoPath(repoURL, input.Branch)
	if err := p.buildImage(ctx, repoPath, settings, imageTag, input); err != nil {
		return nil, err
	}

	hostPort, err := p.allocatePort()
	if err != nil {
		return nil, NewStatusError(0, err.Error())
	}

	env := make([]string, 0, len(input.Env))
	for k, v := range input.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerName := fmt.Sprintf("opshub-preview-%s-pr%d", sanitizeSlug(input.ProjectSlug), input.PRNumber)
	containerID, err := p.dockerClient.RunContainer(ctx, docker.ContainerConfig{
		Name:  containerName,
		Image: imageTag,
		Env:   env,
		Ports: map[string]string{strconv.Itoa(settings.ContainerPort): strconv.Itoa(hostPort)},
		Labels: map[string]string{
			"opshub.managed": "true",
			"opshub.project": input.ProjectSlug,
			"opshub.pr":      strconv.Itoa(input.PRNumber),
		},
	})
	if err != nil {
		return nil, NewStatusError(0, fmt.Sprintf("failed to start container: %v", err))
	}

	url := fmt.Sprintf("http://localhost:%d", hostPort)
	p.logger.Info("preview container started",
		"container", containerName,
		"url", url,
		"commit", commit.Hash.String()[:12])

	return &CreatePreviewResult{
		DeploymentID: containerName,
		URL:          url,
		Metadata: map[string]any{
			"containerId": containerID,
			"image":       imageTag,
			"commit":      commit.Hash.String(),
			"hostPort":    hostPort,
		},
	}, nil
}

// DestroyPreview stops and removes the preview container
func (p *DockerProvider) DestroyPreview(ctx context.Context, deploymentID string) error {
	if err := p.dockerClient.StopAndRemove(ctx, deploymentID); err != nil {
		return NewStatusError(0, fmt.Sprintf("failed to remove container: %v", err))
	}
	p.logger.Info("preview container removed", "container", deploymentID)
	return nil
}

// buildImage tars the checkout and builds the Dockerfile
func (p *DockerProvider) buildImage(ctx context.Context, repoPath string, settings dockerSettings, imageTag string, input CreatePreviewInput) error {
	contextPath := filepath.Join(repoPath, settings.BuildContext)

	dockerfilePath := filepath.Join(contextPath, settings.Dockerfile)
	if _, err := os.Stat(dockerfilePath); os.IsNotExist(err) {
		return NewStatusError(0, fmt.Sprintf("Dockerfile not found: %s", settings.Dockerfile))
	}

	buildContext, err := archive.TarWithOptions(contextPath, &archive.TarOptions{
		ExcludePatterns: []string{".git", "node_modules", ".env*", "*.log"},
	})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := p.dockerClient.BuildImage(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{imageTag},
		Dockerfile: settings.Dockerfile,
		Remove:     true,
		Labels: map[string]string{
			"opshub.managed": "true",
			"opshub.project": input.ProjectSlug,
		},
	})
	if err != nil {
		return NewStatusError(0, fmt.Sprintf("docker build failed: %v", err))
	}
	defer resp.Body.Close()

	if err := drainBuildOutput(resp.Body); err != nil {
		return NewStatusError(0, err.Error())
	}

	return nil
}

// drainBuildOutput consumes the build stream and surfaces build errors
func drainBuildOutput(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		var msg struct {
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}

		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		if msg.Error != "" {
			errMsg := msg.Error
			if msg.ErrorDetail.Message != "" {
				errMsg = msg.ErrorDetail.Message
			}
			return fmt.Errorf("build error: %s", errMsg)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading build output: %w", err)
	}

	return nil
}

// allocatePort finds a free host port in the configured range
func (p *DockerProvider) allocatePort() (int, error) {
	for port := p.portStart; port <= p.portEnd; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", p.portStart, p.portEnd)
}

// sanitizeSlug makes a project slug safe for image and container names
func sanitizeSlug(slug string) string {
	s := strings.ToLower(slug)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return s
}
