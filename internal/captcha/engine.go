package captcha

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
)

// Types lists the puzzle families the engine can generate
var Types = []domain.PuzzleType{
	domain.PuzzleMath,
	domain.PuzzleBitwise,
	domain.PuzzleSequence,
	domain.PuzzleSum,
}

var (
	mathOps    = []string{"+", "-", "*"}
	bitwiseOps = []string{"xor", "and", "or"}
)

// Engine generates puzzles and computes their answers
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand

	// Performance tracking
	generationCount int64
	byType          map[domain.PuzzleType]int64
}

// NewEngine creates a new puzzle engine
func NewEngine() *Engine {
	return NewEngineWithSeed(time.Now().UnixNano())
}

// NewEngineWithSeed creates an engine with a deterministic random source
func NewEngineWithSeed(seed int64) *Engine {
	return &Engine{
		rng:    rand.New(rand.NewSource(seed)),
		byType: make(map[domain.PuzzleType]int64),
	}
}

// Generate returns a random puzzle of a random family together with its answer
func (e *Engine) Generate() (domain.Puzzle, int64) {
	e.mu.Lock()
	t := Types[e.rng.Intn(len(Types))]
	e.mu.Unlock()

	p, _ := e.GenerateType(t)
	return p, Solve(p)
}

// GenerateType returns a random puzzle of the given family
func (e *Engine) GenerateType(t domain.PuzzleType) (domain.Puzzle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var p domain.Puzzle
	switch t {
	case domain.PuzzleMath:
		p = domain.Puzzle{
			Type: t,
			A:    e.between(1, 50),
			B:    e.between(1, 50),
			C:    e.between(1, 10),
			Op:   mathOps[e.rng.Intn(len(mathOps))],
		}
	case domain.PuzzleBitwise:
		p = domain.Puzzle{
			Type: t,
			X:    e.between(1, 255),
			Y:    e.between(1, 255),
			Op:   bitwiseOps[e.rng.Intn(len(bitwiseOps))],
		}
	case domain.PuzzleSequence:
		start, step := e.between(1, 20), e.between(1, 10)
		p = domain.Puzzle{Type: t, Seq: make([]int64, 4)}
		for i := range p.Seq {
			p.Seq[i] = start + int64(i)*step
		}
	case domain.PuzzleSum:
		n := int(e.between(3, 6))
		p = domain.Puzzle{Type: t, Numbers: make([]int64, n)}
		for i := range p.Numbers {
			p.Numbers[i] = e.between(1, 100)
		}
	default:
		return domain.Puzzle{}, fmt.Errorf("unknown puzzle type: %s", t)
	}

	e.generationCount++
	e.byType[t]++
	return p, nil
}

// between returns a value in [lo, hi]
func (e *Engine) between(lo, hi int64) int64 {
	return lo + e.rng.Int63n(hi-lo+1)
}

// Solve computes the expected integer answer of a puzzle. It matches the
// solver embedded in the bootstrap loader.
func Solve(p domain.Puzzle) int64 {
	switch p.Type {
	case domain.PuzzleMath:
		switch p.Op {
		case "+":
			return (p.A + p.B) * p.C
		case "-":
			return (p.A - p.B) * p.C
		default:
			return p.A*p.B + p.C
		}
	case domain.PuzzleBitwise:
		switch p.Op {
		case "xor":
			return p.X ^ p.Y
		case "and":
			return p.X & p.Y
		default:
			return p.X | p.Y
		}
	case domain.PuzzleSequence:
		if len(p.Seq) < 4 {
			return 0
		}
		return p.Seq[3] + (p.Seq[1] - p.Seq[0])
	default:
		var sum int64
		for _, n := range p.Numbers {
			sum += n
		}
		return sum
	}
}

// GetStats returns engine statistics
func (e *Engine) GetStats() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	byType := make(map[string]int64, len(e.byType))
	for t, n := range e.byType {
		byType[string(t)] = n
	}
	return map[string]interface{}{
		"total_generations": e.generationCount,
		"by_type":           byType,
	}
}
