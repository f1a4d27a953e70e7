package cycling

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

// RaceStartlist is the fetched startlist of one race. A race that could not
// be fetched has no teams and Err set.
type RaceStartlist struct {
	Race  models.CyclingRace
	Teams []Team
	Err   error
}

type Race struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Rider struct {
	Team  string   `json:"team"`
	Races []string `json:"races"`
}

// Summary is the cached overview of a race set.
type Summary struct {
	Set       string           `json:"set"`
	Teams     []string         `json:"teams"`
	Riders    map[string]Rider `json:"riders"`
	Races     []Race           `json:"races"`
	Failed    []string         `json:"failed,omitempty"`
	FetchedAt time.Time        `json:"fetched_at"`
}

type fetcher interface {
	Fetch(ctx context.Context, url string) ([]Team, error)
}

// FetchAll fetches every race concurrently and returns results in race
// order. Failures are kept per race and never abort the others.
func FetchAll(ctx context.Context, f fetcher, races []models.CyclingRace, concurrency int) []RaceStartlist {
	if concurrency <= 0 {
		concurrency = 1
	}
	p := pool.NewWithResults[RaceStartlist]().WithMaxGoroutines(concurrency)
	for _, race := range races {
		p.Go(func() RaceStartlist {
			teams, err := f.Fetch(ctx, race.URL)
			return RaceStartlist{Race: race, Teams: teams, Err: err}
		})
	}
	results := p.Wait()

	order := make(map[string]int, len(races))
	for i, r := range races {
		order[r.ID] = i
	}
	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].Race.ID] < order[results[j].Race.ID]
	})
	return results
}

// Process merges race startlists into one overview. A rider keeps the team
// of the first race that lists them; their races follow set order.
func Process(set string, raw []RaceStartlist) Summary {
	s := Summary{
		Set:    set,
		Teams:  []string{},
		Riders: map[string]Rider{},
		Races:  make([]Race, 0, len(raw)),
	}

	teams := map[string]bool{}
	for _, rs := range raw {
		s.Races = append(s.Races, Race{ID: rs.Race.ID, Name: rs.Race.Name})
		if rs.Err != nil {
			s.Failed = append(s.Failed, rs.Race.ID)
			continue
		}
		for _, team := range rs.Teams {
			teams[team.Name] = true
			for _, name := range team.Riders {
				rider, ok := s.Riders[name]
				if !ok {
					rider = Rider{Team: team.Name, Races: []string{}}
				}
				if n := len(rider.Races); n == 0 || rider.Races[n-1] != rs.Race.ID {
					rider.Races = append(rider.Races, rs.Race.ID)
				}
				s.Riders[name] = rider
			}
		}
	}

	for t := range teams {
		s.Teams = append(s.Teams, t)
	}
	sort.Strings(s.Teams)
	return s
}
