/*
 * S390 - Command parser.
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


package parser

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	command "github.com/rcornwell/S390css/command/command"
	core "github.com/rcornwell/S390css/emu/core"
)

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Process  func(*cmdLine, *core.Core) (bool, error)
	Complete func(*cmdLine, *core.Core) []string
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// Where command output goes.
var out io.Writer = os.Stdout

// Execute the command line given. Returns true when console should exit.
func ProcessCommand(commandLine string, core *core.Core) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord(false)
	if command == "" {
		if !line.isEOL() {
			return false, errors.New("command not found: " + line.getToken())
		}
		return false, nil
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, core)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	return strings.HasPrefix(match.Name, command) && len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	// If command empty just return.
	if command == "" {
		return []cmd{}
	}

	// Try and match one command.
	var match []cmd
	for _, m := range cmdList {
		if m.Name == command {
			return []cmd{m}
		}
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Match list of options.
func matchOption(option string, optList []command.Options, cmdType int) command.Options {
	for _, opt := range optList {
		if (opt.OptionValid & cmdType) == 0 {
			continue
		}
		if opt.Name == option {
			return opt
		}
	}
	return command.Options{OptionType: -1}
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return current character without advancing, 0 at end of line.
func (line *cmdLine) peek() byte {
	if line.isEOL() {
		return 0
	}
	return line.line[line.pos]
}

// Return current character and advance to next.
func (line *cmdLine) getCurrent() byte {
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	line.pos++
	return by
}

// Return text up to next space.
func (line *cmdLine) getToken() string {
	line.skipSpace()
	start := line.pos
	for !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
	return line.line[start:line.pos]
}

// Parse decimal number.
func (line *cmdLine) getNumber() (uint32, error) {
	pos := line.pos
	token := line.getToken()
	value, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		line.pos = pos
		return 0, errors.New("not a number: " + token)
	}
	return uint32(value), nil
}

// Parse hex number.
func (line *cmdLine) getHex() (uint32, error) {
	pos := line.pos
	token := line.getToken()
	value, err := strconv.ParseUint(token, 16, 32)
	if err != nil {
		line.pos = pos
		return 0, errors.New("not a hex number: " + token)
	}
	return uint32(value), nil
}

// Parse alphabetic word, optionally stopping at =.
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()
	start := line.pos
	for !line.isEOL() {
		by := line.line[line.pos]
		if unicode.IsSpace(rune(by)) || (equal && by == '=') {
			break
		}
		if !unicode.IsLetter(rune(by)) {
			line.pos = start
			return ""
		}
		line.pos++
	}
	return strings.ToLower(line.line[start:line.pos])
}

// Get an option, nil at end of line. When nameOnly values may be left off.
func (line *cmdLine) getOption(opts []command.Options, cmdType int, nameOnly bool) (*command.CmdOption, error) {
	// Get a word, stoping at equal or space.
	name := line.getWord(true)
	if name == "" {
		if line.isEOL() {
			return nil, nil
		}
		return nil, errors.New("invalid option: " + line.getToken())
	}

	opt := command.CmdOption{Name: name}
	match := matchOption(name, opts, cmdType)
	equal := line.peek() == '='
	if equal {
		line.pos++
	}
	switch match.OptionType {
	case -1:
		return nil, errors.New("unknown option: " + name)
	case command.OptionSwitch:
		if equal {
			return nil, errors.New("switch option can't have arguments: " + name)
		}
		return &opt, nil
	}

	if !equal {
		if nameOnly {
			return &opt, nil
		}
		return nil, errors.New("option must be followed by =: " + name)
	}

	switch match.OptionType {
	case command.OptionNumber:
		num, err := line.getNumber()
		if err != nil {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		opt.Value = num

	case command.OptionHex:
		num, err := line.getHex()
		if err != nil {
			return nil, errors.New("hex options must be followed by hexadecimal number: " + name)
		}
		opt.Value = num

	case command.OptionList:
		value := line.getWord(false)
		for _, mod := range match.OptionList {
			if strings.ToLower(mod) == value {
				opt.EqualOpt = value
				return &opt, nil
			}
		}
		return nil, errors.New("option not valid for type: " + name)
	default:
		return nil, errors.New("invalid option type: " + name)
	}
	return &opt, nil
}

// Scan options and return a list of options.
func (line *cmdLine) getOptions(device command.Command, cmdType int, nameOnly bool) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	opts := device.Options()
	for {
		opt, err := line.getOption(opts, cmdType, nameOnly)
		if err != nil {
			return optlist, err
		}
		if opt == nil {
			return optlist, nil
		}
		optlist = append(optlist, opt)
	}
}

// Get device number.
func (line *cmdLine) getDevNum() (uint16, error) {
	devNum, err := line.getHex()
	if err != nil {
		return 0, errors.New("device must be number")
	}

	if devNum > 0xfff {
		return 0, errors.New("device number too large")
	}
	return uint16(devNum), nil
}

// Return pointer to command interface to device.
func (line *cmdLine) getDevice(core *core.Core) (command.Command, error) {
	devNum, err := line.getDevNum()
	if err != nil {
		return nil, err
	}

	d, err := core.CSS().GetDevice(devNum)
	if err != nil {
		return nil, err
	}
	cmd, ok := d.(command.Command)
	if !ok {
		return nil, errors.New("device has no console options")
	}
	return cmd, nil
}
