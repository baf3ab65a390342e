package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "join":
		return joinTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hostTemplate = `name = "relink-host"
mode = "host"
listen = ":12916"
admin_listen = "127.0.0.1:7020"
admin_token = ""
cors_origins = ["http://localhost:3000"]
tick_interval = "10ms"
max_peers = 4
max_retries = 10
resend_interval = "200ms"
handshake_redundancy = 5
frame_capacity = 1024
dedupe_bucket_count = 128
peer_idle_timeout = "0s"
`

const joinTemplate = `name = "relink-client"
mode = "join"
remote = "127.0.0.1:12916"
tick_interval = "10ms"
max_retries = 10
resend_interval = "200ms"
`
