// Package verify implements the verification gate: one-time challenges that a
// sender must answer before anything they send is relayed.
package verify

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

// Category names the kind of question a challenge asks.
type Category string

const (
	Arithmetic  Category = "arithmetic"
	Sequence    Category = "sequence"
	Numeral     Category = "numeral"
	WordProblem Category = "word_problem"
	ClockTime   Category = "clock_time"
)

// Categories lists every category the generator picks from.
var Categories = []Category{Arithmetic, Sequence, Numeral, WordProblem, ClockTime}

// Challenge is one generated question with its canonical answer.
type Challenge struct {
	Category Category
	Prompt   string
	Answer   string
}

// Matches reports whether input is the expected answer. Only surrounding
// whitespace is ignored.
func (c Challenge) Matches(input string) bool {
	return strings.TrimSpace(input) == c.Answer
}

// Hint returns the instruction shown under the prompt.
func (c Challenge) Hint() string {
	switch c.Category {
	case Arithmetic:
		return "Type the result."
	case Sequence:
		return "Type the next number."
	case Numeral:
		return "Type the number in digits."
	case ClockTime:
		return "Type the time in 24h format (HH:MM)."
	default:
		return "Type the answer as a number."
	}
}

// Generator produces challenges. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a generator driven by rnd, or by a randomly seeded
// source when rnd is nil.
func NewGenerator(rnd *rand.Rand) *Generator {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rnd: rnd}
}

// Next picks a category uniformly and builds a challenge for it.
func (g *Generator) Next() Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.build(Categories[g.rnd.IntN(len(Categories))])
}

// For builds a challenge of a fixed category.
func (g *Generator) For(cat Category) Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.build(cat)
}

func (g *Generator) build(cat Category) Challenge {
	switch cat {
	case Arithmetic:
		return g.arithmetic()
	case Sequence:
		return g.sequence()
	case Numeral:
		return g.numeral()
	case WordProblem:
		return g.wordProblem()
	default:
		return g.clockTime()
	}
}

// between returns a uniform integer in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.IntN(hi-lo+1)
}

func (g *Generator) arithmetic() Challenge {
	var prompt string
	var answer int
	if g.rnd.IntN(2) == 0 {
		switch g.rnd.IntN(3) {
		case 0:
			a, b := g.between(10, 99), g.between(10, 99)
			prompt, answer = fmt.Sprintf("%d + %d = ?", a, b), a+b
		case 1:
			a, b := g.between(50, 99), g.between(10, 49)
			prompt, answer = fmt.Sprintf("%d - %d = ?", a, b), a-b
		default:
			a, b := g.between(2, 12), g.between(2, 12)
			prompt, answer = fmt.Sprintf("%d × %d = ?", a, b), a*b
		}
	} else {
		a, b, c := g.between(5, 20), g.between(2, 10), g.between(2, 10)
		if g.rnd.IntN(2) == 0 {
			prompt, answer = fmt.Sprintf("%d + %d × %d = ?", a, b, c), a+b*c
		} else {
			prompt, answer = fmt.Sprintf("%d - %d + %d = ?", a, b, c), a-b+c
		}
	}
	return Challenge{Category: Arithmetic, Prompt: prompt, Answer: strconv.Itoa(answer)}
}

func (g *Generator) sequence() Challenge {
	terms := make([]int, 5)
	switch g.rnd.IntN(3) {
	case 0:
		start, d := g.between(1, 10), g.between(2, 5)
		for i := range terms {
			terms[i] = start + i*d
		}
	case 1:
		start, r := g.between(2, 5), g.between(2, 3)
		terms[0] = start
		for i := 1; i < len(terms); i++ {
			terms[i] = terms[i-1] * r
		}
	default:
		start := g.between(1, 5)
		for i := range terms {
			terms[i] = (start + i) * (start + i)
		}
	}
	shown := make([]string, 4)
	for i := range shown {
		shown[i] = strconv.Itoa(terms[i])
	}
	return Challenge{
		Category: Sequence,
		Prompt:   strings.Join(shown, ", ") + ", ?",
		Answer:   strconv.Itoa(terms[4]),
	}
}

var (
	unitWords = []string{"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}
	teenWords = []string{"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}
	tensWords = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}
)

// NumberWords spells n in English for 1 <= n <= 99.
func NumberWords(n int) string {
	switch {
	case n < 10:
		return unitWords[n]
	case n < 20:
		return teenWords[n-10]
	case n%10 == 0:
		return tensWords[n/10]
	default:
		return tensWords[n/10] + "-" + unitWords[n%10]
	}
}

func (g *Generator) numeral() Challenge {
	n := g.between(10, 99)
	return Challenge{Category: Numeral, Prompt: NumberWords(n), Answer: strconv.Itoa(n)}
}

func (g *Generator) wordProblem() Challenge {
	switch g.rnd.IntN(3) {
	case 0:
		age := g.between(8, 15)
		return Challenge{
			Category: WordProblem,
			Prompt:   fmt.Sprintf("Sam is %d years old. How old will Sam be in 5 years?", age),
			Answer:   strconv.Itoa(age + 5),
		}
	case 1:
		h := g.between(2, 5)
		return Challenge{
			Category: WordProblem,
			Prompt:   fmt.Sprintf("It is 10 o'clock now. What hour will it be in %d hours?", h),
			Answer:   strconv.Itoa(10 + h),
		}
	default:
		x, y := g.between(5, 12), g.between(2, 4)
		return Challenge{
			Category: WordProblem,
			Prompt:   fmt.Sprintf("There are %d apples and you eat %d. How many are left?", x, y),
			Answer:   strconv.Itoa(x - y),
		}
	}
}

func (g *Generator) clockTime() Challenge {
	minute := []int{0, 15, 30, 45}[g.rnd.IntN(4)]
	var hour12, hour24 int
	var period string
	switch g.rnd.IntN(3) {
	case 0:
		period = "in the morning"
		hour12 = g.between(6, 11)
		hour24 = hour12
	case 1:
		period = "in the afternoon"
		hour12 = []int{12, 1, 2, 3, 4, 5}[g.rnd.IntN(6)]
		hour24 = hour12
		if hour12 != 12 {
			hour24 += 12
		}
	default:
		period = "in the evening"
		hour12 = g.between(6, 11)
		hour24 = hour12 + 12
	}

	var spoken string
	switch minute {
	case 0:
		spoken = NumberWords(hour12) + " o'clock"
	case 15:
		spoken = "quarter past " + NumberWords(hour12)
	case 30:
		spoken = "half past " + NumberWords(hour12)
	default:
		spoken = "three quarters past " + NumberWords(hour12)
	}
	return Challenge{
		Category: ClockTime,
		Prompt:   spoken + " " + period,
		Answer:   fmt.Sprintf("%02d:%02d", hour24, minute),
	}
}
