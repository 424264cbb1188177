package config

import "os"

// EnvConfig names the variable that overrides the config file path.
const EnvConfig = "PCS_CONFIG"

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string
}

// ReadEnvOverrides reads the environment. It does not modify any Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{ConfigPath: os.Getenv(EnvConfig)}
}
