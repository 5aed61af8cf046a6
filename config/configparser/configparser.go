/*
 * S370 - Configuration file parser
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package configparser parses a LAMEbus config file: one device per
// line, "SLOT DEVICE ARG=VAL ...", '#' starts a comment, blank lines
// are ignored. Device models are registered with RegisterModel (main.go
// does so at startup) before LoadConfigFile runs.
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// NoSlot marks a global option line that carries no slot number
// (e.g. "ramsize=" or a bare switch) rather than a numbered device
// slot. Mirrors the device registry's own no-slot sentinel without
// this package depending on internal/device.
const NoSlot = -1

// Option is one ARG or ARG=VAL token trailing a device's slot+model.
type Option struct {
	Name     string    // Option name.
	EqualOpt string    // Value after '=', if any.
	Value    []*string // Comma-separated trailing values, if any.
}

// modelName is the DEVICE token naming which model to construct,
// plus the SLOT token in front of it on a device line.
type modelName struct {
	model string
	first *FirstOption // Leading slot token; nil if the line has none.
}

// FirstOption is a slot number (the token before DEVICE on a
// TypeModel line) or the bare value token after a TypeOption/
// TypeOptions global keyword.
type FirstOption struct {
	slot    int    // Slot number if isSlot.
	isSlot  bool   // Valid slot number in slot.
	value   string // String form of the token.
}

type optionLine struct {
	line string
	pos  int
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <slot> <whitespace> <device> <whitespace> <options> |
 *            <globaloption> <whitespace> <value>
 * <slot> ::= <number>                      (decimal, 0-31)
 * <options> ::= *(<option> *(<whitespace>))
 * <option> ::= <name> ['=' <quoteopt>] *(',' *(<whitespace>) <string>)
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 */

const (
	TypeModel   = 1 + iota // Device bound to a slot.
	TypeOption             // Global option taking one value.
	TypeOptions            // Global option taking a value plus a list.
	TypeSwitch             // Global flag, no value.
)

// Create function signature registered per DEVICE/option keyword.
// slot is NoSlot for TypeOption/TypeOptions/TypeSwitch lines.
type createFunc func(slot int, arg string, options []Option) error

type modelDef struct {
	create createFunc
	ty     int
}

var models = map[string]modelDef{}

var lineNumber int

func getModel(mod string) int {
	model, ok := models[mod]
	if !ok {
		return 0
	}
	return model.ty
}

// RegisterModel binds a DEVICE or option keyword to its create
// function, e.g. RegisterModel("DISK", TypeModel, create); main.go
// registers every device model this way at startup.
func RegisterModel(mod string, ty int, fn createFunc) {
	mod = strings.ToUpper(mod)
	model := modelDef{create: fn, ty: ty}
	models[mod] = model
}

// RegisterSwitch registers a no-argument global flag.
func RegisterSwitch(mod string, fn createFunc) {
	mod = strings.ToUpper(mod)
	models[mod] = modelDef{create: fn, ty: TypeSwitch}
}

// RegisterOption registers a global option taking a single value.
func RegisterOption(mod string, fn createFunc) {
	mod = strings.ToUpper(mod)
	models[mod] = modelDef{create: fn, ty: TypeOption}
}

func createModel(mod string, first *FirstOption, options []Option) error {
	mod = strings.ToUpper(mod)
	model, ok := models[mod]
	if !ok {
		return errors.New("unknown device: " + mod)
	}
	if model.ty != TypeModel {
		return errors.New("not a slot device: " + mod)
	}
	return model.create(first.slot, "", options)
}

func createOption(mod string, first *FirstOption) error {
	mod = strings.ToUpper(mod)
	model, ok := models[mod]
	if !ok {
		return errors.New("unknown option: " + mod)
	}
	if model.ty != TypeOption {
		return errors.New("not a value option: " + mod)
	}
	return model.create(NoSlot, first.value, nil)
}

func createOptions(mod string, first *FirstOption, options []Option) error {
	mod = strings.ToUpper(mod)
	model, ok := models[mod]
	if !ok {
		return errors.New("unknown option: " + mod)
	}
	if model.ty != TypeOptions {
		return errors.New("not a list option: " + mod)
	}
	return model.create(NoSlot, first.value, options)
}

func createSwitch(mod string) error {
	mod = strings.ToUpper(mod)
	model, ok := models[mod]
	if !ok {
		return errors.New("unknown switch: " + mod)
	}
	if model.ty != TypeSwitch {
		return errors.New("not a switch: " + mod)
	}
	return model.create(NoSlot, "", nil)
}

// LoadConfigFile reads and applies every line of a config file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	lineNumber = 0
	reader := bufio.NewReader(file)
	for {
		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := line.parseLine(); err != nil {
			return err
		}
	}
	return nil
}

func (line *optionLine) parseLine() error {
	model := line.parseModel()
	if model == nil {
		return nil
	}
	switch getModel(model.model) {
	case TypeModel:
		first := model.first
		if first == nil || !first.isSlot {
			return fmt.Errorf("device %s requires a slot number, line %d", model.model, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createModel(model.model, first, options)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if first == nil || !line.isEOL() {
			return fmt.Errorf("option %s requires exactly one value, line %d", model.model, lineNumber)
		}
		return createOption(model.model, first)

	case TypeOptions:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("option %s requires a value, line %d", model.model, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createOptions(model.model, first, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch %s takes no arguments, line %d", model.model, lineNumber)
		}
		return createSwitch(model.model)

	case 0:
		return fmt.Errorf("unknown device or option %q, line %d", model.model, lineNumber)
	}
	return nil
}

func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) || inQuote {
		return by
	}
	return 0
}

func (line *optionLine) getPeek() byte {
	if (line.pos + 1) >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// parseModel grabs the leading SLOT number, if any, and the DEVICE/
// option keyword after it.
func (line *optionLine) parseModel() *modelName {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}
	model := modelName{}
	if unicode.IsNumber(rune(line.line[line.pos])) {
		model.first = line.parseFirst()
		line.skipSpace()
	}
	for !line.isEOL() {
		by := line.line[line.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
			model.model += string(by)
			line.pos++
			continue
		}
		break
	}
	if model.model == "" {
		return nil
	}
	model.model = strings.ToUpper(model.model)
	return &model
}

// parseFirst grabs the slot number (before DEVICE on a TypeModel line)
// or the bare value token (after a TypeOption/TypeOptions keyword).
func (line *optionLine) parseFirst() *FirstOption {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}
	value := ""
	for !line.isEOL() {
		by := line.line[line.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
			value += string(by)
			line.pos++
			continue
		}
		break
	}
	option := FirstOption{slot: NoSlot, value: value}
	slot, err := strconv.ParseUint(value, 10, 8)
	if err == nil && slot < 32 {
		option.slot = int(slot)
		option.isSlot = true
	}
	return &option
}

// parseQuoteString parses a bare or double-quoted string value.
func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	if line.getPeek() == '"' {
		inQuote = true
		_ = line.getNext(true)
	}

	for {
		by := line.getNext(true)
		if by == '"' && inQuote {
			by = line.getNext(inQuote)
			if by != '"' {
				return value, true
			}
		}

		space := unicode.IsSpace(rune(by))
		if !inQuote && (space || by == 0 || by == ',') {
			return value, true
		}

		value += string(by)
		if line.isEOL() {
			return value, !inQuote
		}
	}
}

func (line *optionLine) getName() (string, error) {
	if line.isEOL() {
		return "", nil
	}
	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) {
		if !line.isEOL() {
			return "", fmt.Errorf("invalid option at line %d [%d]", lineNumber, line.pos)
		}
		return "", nil
	}
	value := ""
	for {
		value += string(by)
		by = line.getNext(false)
		if by == 0 {
			break
		}
	}
	return value, nil
}

func (line *optionLine) parseOption() (*Option, error) {
	line.skipSpace()

	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	option := Option{Name: value}
	if line.isEOL() {
		return &option, nil
	}

	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string at line %d [%d]", lineNumber, line.pos)
		}
		option.EqualOpt = v
	}

	line.skipSpace()
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		line.skipSpace()
	}

	return &option, nil
}

func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}
