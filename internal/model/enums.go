package model

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidTag is returned when a stored status, result or direction does
// not decode to a known variant.
var ErrInvalidTag = errors.New("model: unrecognized tag")

// RoundStatus is the lifecycle phase of a round. Transitions only move forward.
type RoundStatus uint8

const (
	StatusOpen RoundStatus = iota
	StatusLocked
	StatusSettled
)

var statusNames = [...]string{"open", "locked", "settled"}

// ParseStatus validates a stored status code.
func ParseStatus(code uint8) (RoundStatus, error) {
	if int(code) >= len(statusNames) {
		return 0, fmt.Errorf("%w: status %d", ErrInvalidTag, code)
	}
	return RoundStatus(code), nil
}

func (s RoundStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

func (s RoundStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidTag, uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *RoundStatus) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = RoundStatus(i)
			return nil
		}
	}
	return fmt.Errorf("%w: status %q", ErrInvalidTag, b)
}

// RoundResult is the settled outcome. It is Pending iff status != Settled.
type RoundResult uint8

const (
	ResultPending RoundResult = iota
	ResultUp
	ResultDown
	ResultTie
)

var resultNames = [...]string{"pending", "up", "down", "tie"}

// ParseResult validates a stored result code.
func ParseResult(code uint8) (RoundResult, error) {
	if int(code) >= len(resultNames) {
		return 0, fmt.Errorf("%w: result %d", ErrInvalidTag, code)
	}
	return RoundResult(code), nil
}

func (r RoundResult) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "result(" + strconv.Itoa(int(r)) + ")"
}

func (r RoundResult) MarshalText() ([]byte, error) {
	if int(r) >= len(resultNames) {
		return nil, fmt.Errorf("%w: result %d", ErrInvalidTag, uint8(r))
	}
	return []byte(resultNames[r]), nil
}

func (r *RoundResult) UnmarshalText(b []byte) error {
	for i, name := range resultNames {
		if name == string(b) {
			*r = RoundResult(i)
			return nil
		}
	}
	return fmt.Errorf("%w: result %q", ErrInvalidTag, b)
}

// Direction is the side a wager backs.
type Direction uint8

const (
	Up Direction = iota
	Down
)

// ParseDirection accepts "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up", "UP":
		return Up, nil
	case "down", "DOWN":
		return Down, nil
	}
	return 0, fmt.Errorf("%w: direction %q", ErrInvalidTag, s)
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "direction(" + strconv.Itoa(int(d)) + ")"
}

func (d Direction) MarshalText() ([]byte, error) {
	if d > Down {
		return nil, fmt.Errorf("%w: direction %d", ErrInvalidTag, uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
