package cli

import (
	"github.com/kardianos/service"
)

// newService creates a service.Service for i, logging the platform it runs on.
func newService(i service.Interface, c *service.Config) (service.Service, error) {
	s, err := service.New(i, c)
	if err != nil {
		return nil, err
	}
	mainLog.Load().Debug().Msgf("running %s on platform: %s, interactive: %v", c.Name, s.Platform(), service.Interactive())
	return s, nil
}
