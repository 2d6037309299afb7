package crous

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kb-dev/ukit-sync/internal/cache"
)

// DefaultBaseURL is the public CROUS menu API.
const DefaultBaseURL = "https://api.croustillant.menu/v1"

// regionNouvelleAquitaine is the API region code covering the Bordeaux campuses.
const regionNouvelleAquitaine = 1

// Restaurant is one CROUS restaurant, optionally annotated with the distance
// from the caller's position.
type Restaurant struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	ShortDesc  string   `json:"short_desc"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Opening    string   `json:"opening"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// MenuCategory groups dishes under a heading ("Entrées", "Plats du jour", ...).
type MenuCategory struct {
	Name   string   `json:"name"`
	Dishes []string `json:"dishes"`
}

// DayMenu is one day's lunch and dinner offering for a restaurant.
type DayMenu struct {
	Date   string         `json:"date"` // YYYY-MM-DD
	Lunch  []MenuCategory `json:"midi"`
	Dinner []MenuCategory `json:"soir"`
}

// Service fetches CROUS restaurants and menus with cache fallback.
type Service struct {
	baseURL    string
	httpClient *http.Client
	fetcher    *cache.Fetcher
}

// NewService creates a CROUS service. An empty baseURL selects DefaultBaseURL.
func NewService(fetcher *cache.Fetcher, baseURL string) *Service {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Service{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		fetcher: fetcher,
	}
}

// Restaurants lists the region's restaurants, cached under
// "crous:restaurants". When a position is given the list is annotated with
// distances and sorted nearest first; the sort is applied on cached results
// too, so offline callers get the same ordering.
func (s *Service) Restaurants(ctx context.Context, lat, lon *float64) (cache.Result[[]Restaurant], error) {
	res, err := cache.Fetch(ctx, s.fetcher, "crous:restaurants", s.fetchRestaurants)
	if err != nil {
		return res, err
	}

	if lat != nil && lon != nil {
		for i := range res.Data {
			d := distanceKm(*lat, *lon, res.Data[i].Lat, res.Data[i].Lon)
			res.Data[i].DistanceKm = &d
		}
		sort.SliceStable(res.Data, func(i, j int) bool {
			return *res.Data[i].DistanceKm < *res.Data[j].DistanceKm
		})
	}
	return res, nil
}

// Menus returns the coming days' menus for one restaurant, cached under
// "crous:menu:<id>".
func (s *Service) Menus(ctx context.Context, restaurantID string) (cache.Result[[]DayMenu], error) {
	key := "crous:menu:" + restaurantID
	return cache.Fetch(ctx, s.fetcher, key, func(ctx context.Context) ([]DayMenu, error) {
		return s.fetchMenus(ctx, restaurantID)
	})
}

func (s *Service) fetchRestaurants(ctx context.Context) ([]Restaurant, error) {
	url := fmt.Sprintf("%s/regions/%d/restaurants", s.baseURL, regionNouvelleAquitaine)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch restaurants: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch restaurants: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			Code      int      `json:"code"`
			Nom       string   `json:"nom"`
			Zone      string   `json:"zone"`
			Adresse   string   `json:"adresse"`
			Latitude  float64  `json:"latitude"`
			Longitude float64  `json:"longitude"`
			Horaires  []string `json:"horaires"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse restaurants: %w", err)
	}

	restaurants := make([]Restaurant, 0, len(payload.Data))
	for _, r := range payload.Data {
		desc := r.Zone
		if desc == "" {
			desc = r.Adresse
		}
		opening := "Horaires non spécifiés"
		if len(r.Horaires) > 0 {
			opening = strings.Join(r.Horaires, " | ")
		}
		restaurants = append(restaurants, Restaurant{
			ID:        fmt.Sprintf("%d", r.Code),
			Title:     r.Nom,
			ShortDesc: desc,
			Lat:       r.Latitude,
			Lon:       r.Longitude,
			Opening:   opening,
		})
	}
	return restaurants, nil
}

func (s *Service) fetchMenus(ctx context.Context, restaurantID string) ([]DayMenu, error) {
	url := fmt.Sprintf("%s/restaurants/%s/menu", s.baseURL, restaurantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch menu: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch menu: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			Date  string `json:"date"`
			Repas []struct {
				Type       string `json:"type"`
				Categories []struct {
					Libelle string `json:"libelle"`
					Plats   []struct {
						Libelle string `json:"libelle"`
					} `json:"plats"`
				} `json:"categories"`
			} `json:"repas"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse menu: %w", err)
	}

	menus := make([]DayMenu, 0, len(payload.Data))
	for _, day := range payload.Data {
		menu := DayMenu{Date: normalizeDate(day.Date)}
		for _, repas := range day.Repas {
			var cats []MenuCategory
			for _, c := range repas.Categories {
				name := c.Libelle
				if name == "" {
					name = "Catégorie"
				}
				dishes := make([]string, 0, len(c.Plats))
				for _, p := range c.Plats {
					dishes = append(dishes, p.Libelle)
				}
				cats = append(cats, MenuCategory{Name: name, Dishes: dishes})
			}
			switch repas.Type {
			case "midi":
				menu.Lunch = cats
			case "soir":
				menu.Dinner = cats
			}
		}
		menus = append(menus, menu)
	}
	return menus, nil
}

// normalizeDate converts the API's DD-MM-YYYY into YYYY-MM-DD. Anything else
// passes through unchanged.
func normalizeDate(s string) string {
	parts := strings.Split(s, "-")
	if len(parts) == 3 && len(parts[2]) == 4 {
		return parts[2] + "-" + parts[1] + "-" + parts[0]
	}
	return s
}

// distanceKm is the haversine great-circle distance.
func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
