package types

// Config is the root configuration object, mapped from scrapegate.ini.
// One section per component.
type Config struct {
	LogConf       LogConf       `ini:"log"`
	RateLimitConf RateLimitConf `ini:"ratelimit"`
	ProxyPoolConf ProxyPoolConf `ini:"proxypool"`
	CaptchaConf   CaptchaConf   `ini:"captcha"`
	ClientConf    ClientConf    `ini:"client"`
	DriverConf    DriverConf    `ini:"driver"`
	StrategyConf  StrategyConf  `ini:"strategy"`
}

// LogConf controls the zerolog setup.
type LogConf struct {
	Level string `ini:"level"`
}

// RateLimitConf drives the sliding-window limiter.
type RateLimitConf struct {
	MinDelaySeconds   float64 `ini:"minDelaySeconds"`
	MaxDelaySeconds   float64 `ini:"maxDelaySeconds"`
	RequestsPerMinute int     `ini:"requestsPerMinute"`
	RequestsPerHour   int     `ini:"requestsPerHour"`
	BackoffBase       float64 `ini:"backoffBaseSeconds"`
	BackoffMax        float64 `ini:"backoffMaxSeconds"`
	JitterRange       float64 `ini:"jitterRangeSeconds"`
}

// ProxyPoolConf drives the egress proxy pool.
type ProxyPoolConf struct {
	ProviderURL            string `ini:"providerURL"`
	FreeListURL            string `ini:"freeListURL"`
	BanDurationSeconds     int    `ini:"banDurationSeconds"`
	RefreshIntervalSeconds int    `ini:"refreshIntervalSeconds"`
	MinPoolSize            int    `ini:"minPoolSize"`
}

// CaptchaConf selects and configures the CAPTCHA solver.
type CaptchaConf struct {
	Provider            string  `ini:"provider"` // "" (disabled) or "2captcha"
	APIKey              string  `ini:"apiKey"`
	APIURL              string  `ini:"apiURL"`
	TimeoutSeconds      int     `ini:"timeoutSeconds"`
	PollIntervalSeconds float64 `ini:"pollIntervalSeconds"`
}

// ClientConf configures the signed API caller.
type ClientConf struct {
	BaseURL          string `ini:"baseURL"`
	VersionTag       string `ini:"versionTag"`
	SignatureVersion string `ini:"signatureVersion"` // "new" or "old"
	SessionCookie    string `ini:"sessionCookie"`
	UserAgent        string `ini:"userAgent"`
	TLSFingerprint   bool   `ini:"tlsFingerprint"`
	TimeoutSeconds   int    `ini:"timeoutSeconds"`
}

// DriverConf points at a running browser's DevTools endpoint.
// Empty URL means no driver: driver-backed strategies are skipped.
type DriverConf struct {
	DevToolsURL    string `ini:"devtoolsURL"`
	TimeoutSeconds int    `ini:"timeoutSeconds"`
}

// StrategyConf drives the fallback orchestrator.
type StrategyConf struct {
	Pin                  string `ini:"pin"` // pin a single strategy, empty = full chain
	CookieFile           string `ini:"cookieFile"`
	CaptchaWaitSeconds   int    `ini:"captchaWaitSeconds"`
	InterceptWaitSeconds int    `ini:"interceptWaitSeconds"`
	UseProxyPool         bool   `ini:"useProxyPool"`
	MaxBlockWaitSeconds  int    `ini:"maxBlockWaitSeconds"`
}

// Defaults fills zero values with working defaults. Called after ini
// mapping so a sparse config file still yields a usable setup.
func (c *Config) Defaults() {
	if c.LogConf.Level == "" {
		c.LogConf.Level = "info"
	}
	r := &c.RateLimitConf
	if r.MinDelaySeconds == 0 {
		r.MinDelaySeconds = 2.0
	}
	if r.MaxDelaySeconds == 0 {
		r.MaxDelaySeconds = 5.0
	}
	if r.RequestsPerMinute == 0 {
		r.RequestsPerMinute = 15
	}
	if r.RequestsPerHour == 0 {
		r.RequestsPerHour = 500
	}
	if r.BackoffBase == 0 {
		r.BackoffBase = 5.0
	}
	if r.BackoffMax == 0 {
		r.BackoffMax = 60.0
	}
	if r.JitterRange == 0 {
		r.JitterRange = 1.0
	}
	p := &c.ProxyPoolConf
	if p.BanDurationSeconds == 0 {
		p.BanDurationSeconds = 300
	}
	if p.RefreshIntervalSeconds == 0 {
		p.RefreshIntervalSeconds = 600
	}
	if p.MinPoolSize == 0 {
		p.MinPoolSize = 3
	}
	ca := &c.CaptchaConf
	if ca.APIURL == "" {
		ca.APIURL = "https://2captcha.com"
	}
	if ca.TimeoutSeconds == 0 {
		ca.TimeoutSeconds = 120
	}
	if ca.PollIntervalSeconds == 0 {
		ca.PollIntervalSeconds = 5.0
	}
	cl := &c.ClientConf
	if cl.BaseURL == "" {
		cl.BaseURL = "https://www.zhihu.com"
	}
	if cl.VersionTag == "" {
		cl.VersionTag = "101_3_3.0"
	}
	if cl.SignatureVersion == "" {
		cl.SignatureVersion = "new"
	}
	if cl.SessionCookie == "" {
		cl.SessionCookie = "d_c0"
	}
	if cl.UserAgent == "" {
		cl.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
	}
	if cl.TimeoutSeconds == 0 {
		cl.TimeoutSeconds = 30
	}
	if c.DriverConf.TimeoutSeconds == 0 {
		c.DriverConf.TimeoutSeconds = 30
	}
	s := &c.StrategyConf
	if s.CaptchaWaitSeconds == 0 {
		s.CaptchaWaitSeconds = 120
	}
	if s.InterceptWaitSeconds == 0 {
		s.InterceptWaitSeconds = 20
	}
	if s.MaxBlockWaitSeconds == 0 {
		s.MaxBlockWaitSeconds = 180
	}
}
