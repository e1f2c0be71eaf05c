package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/internal/logger"
	"github.com/MrEthical07/clinicguard/jwt"
	"go.uber.org/zap"
)

// Environment variables read by the commands.
const (
	envMasterSecret   = "CLINICGUARD_MASTER_SECRET"
	envHMACSecret     = "CLINICGUARD_JWT_HMAC_SECRET"
	envKeyID          = "CLINICGUARD_JWT_KID"
	envRSAPublicKey   = "CLINICGUARD_JWT_RSA_PUBLIC_KEY_FILE"
	envECDSAPublicKey = "CLINICGUARD_JWT_ECDSA_PUBLIC_KEY_FILE"
	envRedisAddr      = "CLINICGUARD_REDIS_ADDR"
	envPostgresDSN    = "CLINICGUARD_POSTGRES_DSN"
)

const defaultKeyID = "primary"

func newLogger() (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:       logLevel,
		Format:      logFormat,
		Development: devLogs,
		Service:     "clinicguard",
	})
}

// loadEngineConfig reads the config file over defaults and applies the
// master secret from the environment.
func loadEngineConfig() (clinicguard.Config, error) {
	cfg := clinicguard.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = clinicguard.LoadConfigFile(configPath)
		if err != nil {
			return clinicguard.Config{}, err
		}
	}
	if s := os.Getenv(envMasterSecret); s != "" {
		cfg.MasterSecret = []byte(s)
	}
	return cfg, nil
}

func keyID() string {
	if kid := os.Getenv(envKeyID); kid != "" {
		return kid
	}
	return defaultKeyID
}

// hmacKey returns the shared signing key, if one is configured.
func hmacKey() (jwt.Key, bool, error) {
	secret := os.Getenv(envHMACSecret)
	if secret == "" {
		return jwt.Key{}, false, nil
	}
	k, err := jwt.NewHMACKey(keyID(), jwt.AlgHS256, []byte(secret))
	if err != nil {
		return jwt.Key{}, false, fmt.Errorf("%s: %w", envHMACSecret, err)
	}
	return k, true, nil
}

// loadKeys builds the verification key store from the environment. At
// least one key source is required.
func loadKeys() (*jwt.StaticKeys, error) {
	var keys []jwt.Key

	if k, ok, err := hmacKey(); err != nil {
		return nil, err
	} else if ok {
		keys = append(keys, k)
	}

	if path := os.Getenv(envRSAPublicKey); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		k, err := jwt.NewRSAKey(keyID()+"-rsa", pem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envRSAPublicKey, err)
		}
		keys = append(keys, k)
	}

	if path := os.Getenv(envECDSAPublicKey); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		k, err := jwt.NewECDSAKey(keyID()+"-ec", pem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envECDSAPublicKey, err)
		}
		keys = append(keys, k)
	}

	if len(keys) == 0 {
		return nil, errors.New("no verification key: set " + envHMACSecret + ", " + envRSAPublicKey + " or " + envECDSAPublicKey)
	}
	return jwt.NewStaticKeys(keys...)
}
