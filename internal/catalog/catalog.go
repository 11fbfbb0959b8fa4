// Package catalog resolves platform/engagement pairs to purchasable provider services.
package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/campaign-runner/internal/errors"
)

// ServiceID is a provider service identifier; catalogs store it as a number or a string
type ServiceID string

// UnmarshalJSON accepts both 1234 and "1234"
func (id *ServiceID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ServiceID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("service_id must be a number or string: %w", err)
	}
	*id = ServiceID(n.String())
	return nil
}

// Service is one purchasable provider offering
type Service struct {
	Platform      string    `json:"platform"`
	Engagement    string    `json:"service_category"`
	Tier          string    `json:"tier,omitempty"`
	Provider      string    `json:"provider"`
	ProviderLabel string    `json:"provider_label,omitempty"`
	ServiceID     ServiceID `json:"service_id"`
	Name          string    `json:"name,omitempty"`
	RatePer1k     *float64  `json:"rate_per_1k,omitempty"`
	MinQty        *int      `json:"min_qty,omitempty"`
	MaxQty        *int      `json:"max_qty,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Rate returns a copy of the price per 1000 units, nil when unknown
func (s *Service) Rate() *float64 {
	if s.RatePer1k == nil {
		return nil
	}
	rate := *s.RatePer1k
	return &rate
}

// Cost prices quantity units, rounded to six decimals. A service without a
// rate has no known cost.
func (s *Service) Cost(quantity int) *float64 {
	if s.RatePer1k == nil {
		return nil
	}
	cost := math.Round(*s.RatePer1k*float64(quantity)/1000*1e6) / 1e6
	return &cost
}

// CheckQuantity validates quantity against the service bounds
func (s *Service) CheckQuantity(quantity int) error {
	minQty, maxQty := 0, 0
	if s.MinQty != nil {
		minQty = *s.MinQty
	}
	if s.MaxQty != nil {
		maxQty = *s.MaxQty
	}
	if quantity < minQty || (s.MaxQty != nil && quantity > maxQty) {
		return apperrors.NewQuantityOutOfRangeError(string(s.ServiceID), quantity, minQty, maxQty)
	}
	return nil
}

type catalogFile struct {
	Services []Service `json:"services"`
	Version  string    `json:"version,omitempty"`
}

// Catalog is an in-memory, reloadable view of the services file
type Catalog struct {
	path string

	mu       sync.RWMutex
	services []Service
}

// Load reads the catalog at path
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a catalog from services held in memory
func New(services []Service) *Catalog {
	c := &Catalog{}
	c.services = normalize(services)
	return c
}

// Path returns the file the catalog was loaded from
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the catalog file. On error the previous services stay in place.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", c.path, err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", c.path, err)
	}

	services := normalize(file.Services)
	c.mu.Lock()
	c.services = services
	c.mu.Unlock()
	return nil
}

func normalize(in []Service) []Service {
	out := make([]Service, 0, len(in))
	for _, s := range in {
		s.Platform = strings.TrimSpace(s.Platform)
		s.Engagement = strings.TrimSpace(s.Engagement)
		s.Provider = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s.Provider), " ", ""))
		if s.Provider == "jap" {
			s.Provider = "justanotherpanel"
		}
		if s.Platform == "" || s.Engagement == "" || s.Provider == "" || s.ServiceID == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// List returns the services for platform and engagement, cheapest first.
// Services without a rate sort last.
func (c *Catalog) List(platform, engagement string) []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Service
	for _, s := range c.services {
		if strings.EqualFold(s.Platform, platform) && strings.EqualFold(s.Engagement, engagement) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].RatePer1k, out[j].RatePer1k
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

// Platforms lists every platform the catalog covers
func (c *Catalog) Platforms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, s := range c.services {
		if _, ok := seen[s.Platform]; !ok {
			seen[s.Platform] = struct{}{}
			out = append(out, s.Platform)
		}
	}
	sort.Strings(out)
	return out
}

// Select returns the cheapest service, preferring tier when one matches
func (c *Catalog) Select(platform, engagement, preferredTier string) (*Service, error) {
	candidates := c.List(platform, engagement)
	if len(candidates) == 0 {
		return nil, apperrors.NewServiceNotFoundError(platform, engagement)
	}
	if preferredTier != "" {
		for i := range candidates {
			if strings.EqualFold(candidates[i].Tier, preferredTier) {
				return &candidates[i], nil
			}
		}
	}
	return &candidates[0], nil
}

// ResolveService picks the cheapest service and checks quantity against its bounds
func (c *Catalog) ResolveService(platform, engagement string, quantity int) (*Service, error) {
	svc, err := c.Select(platform, engagement, "")
	if err != nil {
		return nil, err
	}
	if err := svc.CheckQuantity(quantity); err != nil {
		return nil, err
	}
	return svc, nil
}

// FindService looks up an explicit service id for platform and engagement
func (c *Catalog) FindService(platform, engagement, serviceID string) (*Service, error) {
	for _, s := range c.List(platform, engagement) {
		if string(s.ServiceID) == serviceID {
			svc := s
			return &svc, nil
		}
	}
	return nil, apperrors.NewNotFoundError("service", fmt.Sprintf("%s/%s/%s", platform, engagement, serviceID))
}

// ParseServiceID validates a caller-supplied service id
func ParseServiceID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return "", apperrors.NewInvalidParameterError("service_id", "must be a positive integer")
	}
	return raw, nil
}
