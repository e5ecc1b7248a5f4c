package salespoints

import (
	"errors"
	"strings"
)

func (s *Service) validate(sp SalesPoint) error {
	if strings.TrimSpace(sp.Name) == "" {
		return errors.New("salespoint name is required")
	}
	if len(sp.Name) > 150 {
		return errors.New("salespoint name too long")
	}
	return nil
}
