package config

import (
	"strings"
	"testing"
)

func minimalValidConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Server: ServerConfig{
			ListenAddr:  "0.0.0.0:8443",
			TLSCertFile: "/etc/agent-gate/cert.pem",
			TLSKeyFile:  "/etc/agent-gate/key.pem",
		},
		Auth: AuthConfig{BearerToken: "s3cr3t"},
		Messenger: MessengerConfig{
			Type:         "webhook",
			SendURL:      "https://example.com/send",
			UpdateURL:    "https://example.com/update",
			AllowedUsers: []string{"alice"},
		},
		Store:      StoreConfig{Path: "./agent-gate.db"},
		PolicyFile: "./policy.yaml",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingTLSWithoutInsecure(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.Server.TLSCertFile = ""
	cfg.Server.TLSKeyFile = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "tls_cert_file") {
		t.Errorf("error = %q, want to contain 'tls_cert_file'", err.Error())
	}
}

func TestValidate_InsecureAllowsMissingTLS(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.Server.Insecure = true
	cfg.Server.TLSCertFile = ""
	cfg.Server.TLSKeyFile = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with server.insecure unexpected error: %v", err)
	}
}

func TestValidate_EmptyAllowedUsers(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.Messenger.AllowedUsers = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty allowed_users, got nil")
	}
	if !strings.Contains(err.Error(), "allowed_users") {
		t.Errorf("error = %q, want to contain 'allowed_users'", err.Error())
	}
}

func TestValidate_BlankAllowedUser(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.Messenger.AllowedUsers = []string{""}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for blank allowed user, got nil")
	}
}

func TestValidate_MissingBearerToken(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.Auth.BearerToken = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing bearer token, got nil")
	}
	if !strings.Contains(err.Error(), "BearerToken") {
		t.Errorf("error = %q, want to contain 'BearerToken'", err.Error())
	}
}

func TestValidate_InvalidMessengerType(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.Messenger.Type = "telegram"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unsupported messenger type, got nil")
	}
	if !strings.Contains(err.Error(), "one of") {
		t.Errorf("error = %q, want to contain 'one of'", err.Error())
	}
}

func TestValidate_MissingPolicyFile(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.PolicyFile = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing policy_file, got nil")
	}
}

func TestValidate_InvalidApprovalTimeout(t *testing.T) {
	t.Parallel()
	cfg := minimalValidConfig()
	cfg.ApprovalTimeoutSeconds = -1

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for negative approval timeout, got nil")
	}
}
