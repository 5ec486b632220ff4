package types

// Cookie is the minimal cookie view shared between the automation driver,
// the persisted state file and the session health monitor. Expires is a
// unix timestamp in seconds; values <= 0 mean "session cookie, no expiry".
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain,omitempty"`
	Path    string  `json:"path,omitempty"`
	Expires float64 `json:"expires,omitempty"`
}
