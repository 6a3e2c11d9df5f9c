package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credential keys read from the credentials file or the environment.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
)

// AccessKeys is an object-storage key pair.
type AccessKeys struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Load returns the access keys named by c. Keys missing from the file (or all
// keys, when no file is configured) fall back to the process environment. The
// environment is never modified.
func (c Credentials) Load() (AccessKeys, error) {
	vals := map[string]string{}
	if c.File != "" {
		var err error
		if vals, err = readKeyFile(c.File); err != nil {
			return AccessKeys{}, err
		}
	}
	get := func(k string) string {
		if v := strings.TrimSpace(vals[k]); v != "" {
			return v
		}
		return os.Getenv(k)
	}
	return AccessKeys{
		AccessKeyID:     get(EnvAccessKeyID),
		SecretAccessKey: get(EnvSecretAccessKey),
		SessionToken:    get(EnvSessionToken),
	}, nil
}

// readKeyFile parses a dotenv file. INI section headers such as [AWS] are
// skipped so that the classic dl.cfg layout is accepted as well.
func readKeyFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}

	vals, err := godotenv.Parse(strings.NewReader(b.String()))
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return vals, nil
}
