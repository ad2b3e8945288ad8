package docker

import (
	"testing"
)

func TestContainerConfig(t *testing.T) {
	cfg := ContainerConfig{
		Name:   "opshub-preview-1-42",
		Image:  "opshub/preview-1-42:latest",
		Cmd:    []string{"node", "server.js"},
		Env:    []string{"NODE_ENV=preview"},
		Ports:  map[string]string{"3000": "42001"},
		Labels: map[string]string{"opshub.managed": "true"},
	}

	if cfg.Name != "opshub-preview-1-42" {
		t.Errorf("Name = %v, want opshub-preview-1-42", cfg.Name)
	}
	if cfg.Image != "opshub/preview-1-42:latest" {
		t.Errorf("Image = %v, want opshub/preview-1-42:latest", cfg.Image)
	}
	if len(cfg.Cmd) != 2 {
		t.Errorf("len(Cmd) = %v, want 2", len(cfg.Cmd))
	}
	if len(cfg.Env) != 1 {
		t.Errorf("len(Env) = %v, want 1", len(cfg.Env))
	}
	if cfg.Labels["opshub.managed"] != "true" {
		t.Errorf("Labels = %v, want opshub.managed=true", cfg.Labels)
	}
}

func TestToPortBindings(t *testing.T) {
	ports := map[string]string{
		"80":   "8080",
		"443":  "8443",
		"3000": "3000",
	}

	portMap := toPortBindings(ports)

	if len(portMap) != 3 {
		t.Errorf("len(portMap) = %v, want 3", len(portMap))
	}

	bindings, ok := portMap["80/tcp"]
	if !ok {
		t.Error("Expected 80/tcp binding to exist")
	}
	if len(bindings) != 1 || bindings[0].HostPort != "8080" {
		t.Errorf("80/tcp binding = %v, want [{HostPort:8080}]", bindings)
	}

	bindings, ok = portMap["443/tcp"]
	if !ok {
		t.Error("Expected 443/tcp binding to exist")
	}
	if len(bindings) != 1 || bindings[0].HostPort != "8443" {
		t.Errorf("443/tcp binding = %v, want [{HostPort:8443}]", bindings)
	}
}

func TestExtractPorts(t *testing.T) {
	// Test with nil port map
	ports := extractPorts(nil)
	if len(ports) != 0 {
		t.Errorf("Expected empty map for nil input, got %v", ports)
	}
}

func TestToPortBindingsEmpty(t *testing.T) {
	ports := map[string]string{}
	portMap := toPortBindings(ports)
	if len(portMap) != 0 {
		t.Errorf("Expected empty port map, got %v", portMap)
	}
}
