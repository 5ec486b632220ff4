package config

import (
	"os"

	"gopkg.in/ini.v1"

	"scrapegate/internal/shared/types"
)

// LoadIni loads the behaviour configuration file and applies environment
// overrides and defaults on top of it.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	applyEnv(cfg)
	cfg.Defaults()
	return nil
}

// applyEnv lets secrets stay out of the ini file.
func applyEnv(cfg *types.Config) {
	overrideFromEnv(&cfg.CaptchaConf.APIKey, "SCRAPEGATE_CAPTCHA_KEY")
	overrideFromEnv(&cfg.ProxyPoolConf.ProviderURL, "SCRAPEGATE_PROXY_PROVIDER")
	overrideFromEnv(&cfg.StrategyConf.CookieFile, "SCRAPEGATE_COOKIE_FILE")
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
