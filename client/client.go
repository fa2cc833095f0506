package client

import (
	"errors"
	"time"

	"github.com/sardine-ai/go-db-config/source"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigNotFound is returned when the repository has no value for a name.
	ErrConfigNotFound = errors.New("config not found")
	// ErrConfigNull is returned when the stored value is null.
	ErrConfigNull = errors.New("config is null")
)

// Client reads typed configuration values from a Repository.
type Client struct {
	Repository source.Repository
}

// NewClient creates a Client reading from repository. The repository owns
// its own refresh schedule; the Client only reads the published settings.
func NewClient(repository source.Repository) *Client {
	return &Client{Repository: repository}
}

// OnReload registers listener to run whenever the repository publishes
// changed settings. It returns a no-op cancel function when the repository
// does not announce reloads.
func (c *Client) OnReload(listener func()) (cancel func()) {
	notifier, ok := c.Repository.(source.ReloadNotifier)
	if !ok {
		return func() {}
	}
	return notifier.OnReload(listener)
}

// Refresh asks the repository to reload its settings now.
func (c *Client) Refresh() error {
	return c.Repository.Refresh()
}

func (c *Client) get(name string) (interface{}, error) {
	config, ok := c.Repository.GetData(name)
	if !ok {
		return nil, ErrConfigNotFound
	}
	if config == nil {
		return nil, ErrConfigNull
	}
	return config, nil
}

// GetConfig decodes the value stored under name as YAML into data, so that a
// setting holding "[a, b]" or "{host: db1}" fills slices and structs.
func (c *Client) GetConfig(name string, data interface{}) error {
	config, err := c.get(name)
	if err != nil {
		return err
	}
	text, err := cast.ToStringE(config)
	if err != nil {
		return err
	}
	return yaml.Unmarshal([]byte(text), data)
}

// GetConfigString retrieves the configuration with the given name as a string.
func (c *Client) GetConfigString(name string) (string, error) {
	config, err := c.get(name)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(config)
}

// GetConfigInt retrieves the configuration with the given name as an int.
func (c *Client) GetConfigInt(name string) (int, error) {
	config, err := c.get(name)
	if err != nil {
		return 0, err
	}
	return cast.ToIntE(config)
}

// GetConfigFloat retrieves the configuration with the given name as a float64.
func (c *Client) GetConfigFloat(name string) (float64, error) {
	config, err := c.get(name)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(config)
}

// GetConfigBool retrieves the configuration with the given name as a bool.
func (c *Client) GetConfigBool(name string) (bool, error) {
	config, err := c.get(name)
	if err != nil {
		return false, err
	}
	return cast.ToBoolE(config)
}

// GetConfigDuration retrieves the configuration with the given name as a
// duration. Plain numbers are read as nanoseconds.
func (c *Client) GetConfigDuration(name string) (time.Duration, error) {
	config, err := c.get(name)
	if err != nil {
		return 0, err
	}
	return cast.ToDurationE(config)
}

// GetConfigArrayOfStrings retrieves the configuration with the given name as
// a list of strings. The value may be a YAML sequence or space separated words.
func (c *Client) GetConfigArrayOfStrings(name string) ([]string, error) {
	var list []string
	if err := c.GetConfig(name, &list); err == nil {
		return list, nil
	} else if errors.Is(err, ErrConfigNotFound) || errors.Is(err, ErrConfigNull) {
		return nil, err
	}
	config, err := c.get(name)
	if err != nil {
		return nil, err
	}
	return cast.ToStringSliceE(config)
}
