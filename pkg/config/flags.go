package config

// Flags are the connection settings every binary accepts on the command line
// or through the environment. Set values override the map profile.
type Flags struct {
	Config   string `help:"Map profile YAML file." type:"path" env:"SENTINEL_CONFIG"`
	WSURL    string `name:"ws-url" help:"Realtime event socket URL." env:"SENTINEL_WS_URL"`
	APIURL   string `name:"api-url" help:"REST backend base URL." env:"SENTINEL_API_URL"`
	APIToken string `name:"api-token" help:"Bearer token for the REST backend." env:"SENTINEL_API_TOKEN"`
	Region   string `help:"Only receive events for this region." env:"SENTINEL_REGION"`
}

// Load reads the profile named by Config and applies the overrides.
func (f Flags) Load() (Config, error) {
	c, err := Load(f.Config)
	if err != nil {
		return Config{}, err
	}
	if f.WSURL != "" {
		c.Realtime.URL = f.WSURL
	}
	if f.APIURL != "" {
		c.Backend.BaseURL = f.APIURL
	}
	if f.APIToken != "" {
		c.Backend.Token = f.APIToken
	}
	if f.Region != "" {
		c.Realtime.Region = f.Region
	}
	return c, c.Validate()
}
