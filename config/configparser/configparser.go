/*
 * S390 - Configuration file parser
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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"

	D "github.com/rcornwell/S390css/emu/device"
)

/* Configuration file format:
 *
 * '#' starts a comment, rest of line is ignored.
 * <line>    ::= <model> <device> *<option>     TESTDEV 180 ISC=3
 *             | <model> <value> *<option>      CSS 0 MAXTHREADS=8 PCIFAST
 *             | <model> <value>                MEMORY 16M
 *             | <model> <file>                 DEBUGFILE "debug log"
 * <device>  ::= <hexnumber>
 * <option>  ::= <name> ['=' <value>] *(',' <name>)
 * <value>   ::= <string> | '"' *<character> '"'
 */

const (
	TypeModel   = 1 + iota // Device, first value is device number.
	TypeOption             // One value.
	TypeOptions            // Value followed by list of options.
	TypeFile               // File name.
)

var ErrUnknown = errors.New("unknown configuration option")

// Option following the model and first value.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Comma separated values.
}

// Called with device number (or NoDev), first value and options.
type CreateFunc func(devNum uint16, value string, options []Option) error

type modelDef struct {
	create CreateFunc
	ty     int
}

var models = map[string]modelDef{}

var lineNumber int

// Register should be called from init functions.
func RegisterModel(mod string, ty int, fn CreateFunc) {
	mod = strings.ToUpper(mod)
	slog.Debug("Registering configuration", "model", mod, "type", ty)
	models[mod] = modelDef{create: fn, ty: ty}
}

// Register option taking a single value.
func RegisterOption(mod string, fn CreateFunc) {
	RegisterModel(mod, TypeOption, fn)
}

// Register option that takes a file name.
func RegisterFile(mod string, fn CreateFunc) {
	RegisterModel(mod, TypeFile, fn)
}

// Load in a configuration file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Load configuration from reader, stops at first error.
func LoadConfig(r io.Reader) error {
	lineNumber = 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNumber++
		line := configLine{text: scanner.Text()}
		if err := line.parse(); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
	}
	return scanner.Err()
}

// Current line being parsed.
type configLine struct {
	text string
	pos  int
}

// Parse one line and call its create function.
func (line *configLine) parse() error {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}
	name := strings.ToUpper(line.word())
	if name == "" {
		return fmt.Errorf("invalid character '%c'", line.text[line.pos])
	}
	model, ok := models[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}

	if model.ty == TypeFile {
		file, ok := line.fileName()
		line.skipSpace()
		if !ok || file == "" || !line.isEOL() {
			return errors.New(name + " requires one file name")
		}
		return model.create(D.NoDev, file, nil)
	}

	line.skipSpace()
	first := line.word()
	if first == "" {
		return errors.New(name + " requires a value")
	}
	devNum := D.NoDev
	if v, err := strconv.ParseUint(first, 16, 12); err == nil {
		devNum = uint16(v)
	}

	switch model.ty {
	case TypeModel:
		if devNum == D.NoDev {
			return fmt.Errorf("%s requires device address: %s", name, first)
		}
		options, err := line.options()
		if err != nil {
			return err
		}
		return model.create(devNum, "", options)

	case TypeOption:
		line.skipSpace()
		if !line.isEOL() {
			return errors.New(name + " takes only one value")
		}
		return model.create(devNum, first, nil)

	case TypeOptions:
		options, err := line.options()
		if err != nil {
			return err
		}
		return model.create(devNum, first, options)
	}
	return fmt.Errorf("%s has invalid type %d", name, model.ty)
}

// Collect options to end of line.
func (line *configLine) options() ([]Option, error) {
	var options []Option
	for {
		line.skipSpace()
		if line.isEOL() {
			return options, nil
		}
		if !unicode.IsLetter(rune(line.text[line.pos])) {
			return nil, fmt.Errorf("invalid option at column %d", line.pos+1)
		}
		opt := Option{Name: line.word()}
		if !line.isEOL() && line.text[line.pos] == '=' {
			line.pos++
			v, ok := line.value()
			if !ok {
				return nil, errors.New("unterminated quoted string for " + opt.Name)
			}
			opt.EqualOpt = v
		}
		line.skipSpace()
		for !line.isEOL() && line.text[line.pos] == ',' {
			line.pos++
			line.skipSpace()
			if v := line.word(); v != "" {
				opt.Value = append(opt.Value, &v)
			}
			line.skipSpace()
		}
		options = append(options, opt)
	}
}

// Value after =, either quoted or up to space or comma. Doubled quote
// inside quotes gives a quote.
func (line *configLine) value() (string, bool) {
	if line.isEOL() || line.text[line.pos] != '"' {
		start := line.pos
		for !line.isEOL() && line.text[line.pos] != ',' && !unicode.IsSpace(rune(line.text[line.pos])) {
			line.pos++
		}
		return line.text[start:line.pos], true
	}

	var value strings.Builder
	line.pos++
	for line.pos < len(line.text) {
		by := line.text[line.pos]
		line.pos++
		if by != '"' {
			value.WriteByte(by)
			continue
		}
		if line.pos < len(line.text) && line.text[line.pos] == '"' {
			value.WriteByte('"')
			line.pos++
			continue
		}
		return value.String(), true
	}
	return "", false
}

// File name, quoted or up to next space.
func (line *configLine) fileName() (string, bool) {
	line.skipSpace()
	if line.isEOL() {
		return "", false
	}
	if line.text[line.pos] == '"' {
		return line.value()
	}
	start := line.pos
	for !line.isEOL() && !unicode.IsSpace(rune(line.text[line.pos])) {
		line.pos++
	}
	return line.text[start:line.pos], true
}

// Letters and digits.
func (line *configLine) word() string {
	start := line.pos
	for line.pos < len(line.text) {
		r := rune(line.text[line.pos])
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			break
		}
		line.pos++
	}
	return line.text[start:line.pos]
}

func (line *configLine) skipSpace() {
	for line.pos < len(line.text) && unicode.IsSpace(rune(line.text[line.pos])) {
		line.pos++
	}
}

func (line *configLine) isEOL() bool {
	return line.pos >= len(line.text) || line.text[line.pos] == '#'
}
