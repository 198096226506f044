// Package questions holds the immutable statement catalog games sample
// their rounds from.
package questions

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/longshot-live/longshot/internal/models"
)

// Pool is an immutable catalog of questions, unique by text. It is loaded
// once at startup and shared by every game for the process lifetime.
type Pool struct {
	questions []models.Question
}

type catalogFile struct {
	Questions []models.Question `yaml:"questions"`
}

// Load reads a YAML catalog file and builds a Pool.
func Load(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question catalog: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse question catalog: %w", err)
	}

	return New(catalog.Questions)
}

// New builds a Pool from a question list, rejecting empty or duplicate
// texts since text is the pool's unique key.
func New(qs []models.Question) (*Pool, error) {
	seen := make(map[string]bool, len(qs))
	for i, q := range qs {
		if q.Text == "" {
			return nil, fmt.Errorf("question %d has empty text", i)
		}
		if seen[q.Text] {
			return nil, fmt.Errorf("duplicate question text: %q", q.Text)
		}
		seen[q.Text] = true
	}

	pool := &Pool{questions: make([]models.Question, len(qs))}
	copy(pool.questions, qs)
	return pool, nil
}

// Size bounds the valid range for a game's rounds setting.
func (p *Pool) Size() int {
	return len(p.questions)
}

// Questions returns a copy of the catalog.
func (p *Pool) Questions() []models.Question {
	out := make([]models.Question, len(p.questions))
	copy(out, p.questions)
	return out
}

// SampleUnused picks uniformly at random among questions whose text is
// not in asked. The second return is false when the pool is exhausted.
func (p *Pool) SampleUnused(asked map[string]bool) (models.Question, bool) {
	unused := make([]models.Question, 0, len(p.questions))
	for _, q := range p.questions {
		if !asked[q.Text] {
			unused = append(unused, q)
		}
	}
	if len(unused) == 0 {
		return models.Question{}, false
	}

	return unused[randIndex(len(unused))], true
}

func randIndex(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// fallback to math/rand if crypto fails
		return rand.Intn(n)
	}
	return int(v.Int64())
}
