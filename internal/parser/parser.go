package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/knol"
)

const (
	promptPrefix = "Q:"
	answerPrefix = "A:"
	unitPrefix   = "U:"
	topicPrefix  = "T:"
	tierPrefix   = "D:"
	timePrefix   = "E:"
	toolPrefix   = "X:"

	separator = "---"
)

// Defaults applied to fields a record leaves out.
const (
	DefaultTier                 = domain.TierMedium
	DefaultEstimatedTimeSeconds = 60
)

type state int

const (
	seeking state = iota
	readingPrompt
	readingAnswer
)

// ParseFile reads a catalog file and extracts all items.
func ParseFile(path string) ([]domain.Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	items, err := Parse(file)
	if err != nil {
		return items, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// Parse extracts items from r. Records without a prompt are skipped. Bad
// field values are collected into the returned error while the record
// keeps its defaults, so callers still get every usable item.
func Parse(r io.Reader) ([]domain.Item, error) {
	scanner := bufio.NewScanner(r)
	var items []domain.Item
	var fieldErrs []error
	var prompt, answer []string
	current := newItem()
	currentState := seeking
	lineNo := 0

	finishItem := func() {
		current.Prompt = strings.TrimSpace(strings.Join(prompt, "\n"))
		current.Answer = strings.TrimSpace(strings.Join(answer, "\n"))
		if current.Prompt != "" {
			current.ID = knol.Hash(current)
			items = append(items, current)
		}
		current = newItem()
		prompt, answer = nil, nil
		currentState = seeking
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if strings.TrimSpace(line) == separator {
			finishItem()
			continue
		}

		prefix, value, ok := splitField(line)
		if !ok {
			switch currentState {
			case readingPrompt:
				prompt = append(prompt, line)
			case readingAnswer:
				answer = append(answer, line)
			}
			continue
		}

		switch prefix {
		case promptPrefix:
			if currentState != seeking || len(prompt) > 0 {
				finishItem() // a new question always starts a new item
			}
			currentState = readingPrompt
			prompt = append(prompt, value)
		case answerPrefix:
			currentState = readingAnswer
			answer = append(answer, value)
		default:
			// Metadata fields are single-line and end any multi-line block.
			currentState = seeking
			if err := applyField(&current, prefix, value); err != nil {
				fieldErrs = append(fieldErrs, fmt.Errorf("line %d: %w", lineNo, err))
			}
		}
	}

	finishItem() // finish the very last item in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, errors.Join(fieldErrs...)
}

func newItem() domain.Item {
	return domain.Item{Tier: DefaultTier, EstimatedTimeSeconds: DefaultEstimatedTimeSeconds}
}

func splitField(line string) (prefix, value string, ok bool) {
	for _, p := range []string{promptPrefix, answerPrefix, unitPrefix, topicPrefix, tierPrefix, timePrefix, toolPrefix} {
		if strings.HasPrefix(line, p) {
			return p, strings.TrimSpace(line[len(p):]), true
		}
	}
	return "", "", false
}

func applyField(item *domain.Item, prefix, value string) error {
	switch prefix {
	case unitPrefix:
		item.Unit = value
	case topicPrefix:
		item.Topic = value
	case tierPrefix:
		tier, err := domain.ParseTier(value)
		if err != nil {
			return err
		}
		item.Tier = tier
	case timePrefix:
		secs, err := strconv.Atoi(strings.TrimSuffix(value, "s"))
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid estimated time %q", value)
		}
		item.EstimatedTimeSeconds = secs
	case toolPrefix:
		switch strings.ToLower(value) {
		case "", "none", "no", "false":
			item.ToolRequired = false
		default:
			item.ToolRequired = true
		}
	}
	return nil
}
