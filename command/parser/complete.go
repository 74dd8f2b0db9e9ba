/*
 * S390 - Command completion.
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
	"fmt"
	"slices"
	"strings"
	"unicode"

	command "github.com/rcornwell/S390css/command/command"
	core "github.com/rcornwell/S390css/emu/core"
)

// Called to complete a command line, during line editing.
func CompleteCmd(commandLine string, core *core.Core) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord(false)

	// We have a command, let it try and complete it.
	if line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		// See if there is a completer for this command.
		match := matchList(name)
		if len(match) != 1 || match[0].Complete == nil {
			return nil
		}
		return match[0].Complete(&line, core)
	}
	if line.pos != len(line.line) {
		return nil
	}

	// Try and match one command.
	var matches []string
	for _, m := range cmdList {
		if strings.HasPrefix(m.Name, name) {
			matches = append(matches, m.Name+" ")
		}
	}
	slices.Sort(matches)
	return matches
}

// Match for device address. Returns true if device number already complete.
func (line *cmdLine) matchDevice(core *core.Core) ([]string, bool) {
	line.skipSpace()
	leading := line.line[:line.pos]
	device := strings.ToLower(line.getToken())
	if line.pos < len(line.line) {
		return nil, device != ""
	}

	var devices []string
	for _, devNum := range core.CSS().Devices() {
		str := fmt.Sprintf("%03x", devNum)
		if strings.HasPrefix(str, device) {
			devices = append(devices, leading+str+" ")
		}
	}
	return devices, false
}

// Complete commands that only need device number.
func deviceComplete(line *cmdLine, core *core.Core) []string {
	devices, _ := line.matchDevice(core)
	return devices
}

// Set/Unset command completion.
func setComplete(line *cmdLine, core *core.Core) []string {
	return line.optionComplete(core, command.ValidSet)
}

// Show command completion, device or one of all or pool.
func showComplete(line *cmdLine, core *core.Core) []string {
	pos := line.pos
	line.skipSpace()
	leading := line.line[:line.pos]
	word := line.getWord(false)
	if word != "" && line.pos == len(line.line) {
		var matches []string
		for _, name := range []string{"all", "pool"} {
			if strings.HasPrefix(name, word) {
				matches = append(matches, leading+name+" ")
			}
		}
		return matches
	}
	line.pos = pos
	return line.optionComplete(core, command.ValidShow)
}

// Complete device number then last option name.
func (line *cmdLine) optionComplete(core *core.Core, cmdType int) []string {
	pos := line.pos
	devices, done := line.matchDevice(core)
	if !done {
		return devices
	}
	line.pos = pos
	device, err := line.getDevice(core)
	if err != nil {
		return nil
	}

	// Skip options already given.
	for {
		line.skipSpace()
		leading := line.line[:line.pos]
		name := strings.ToLower(line.getToken())
		if line.pos < len(line.line) {
			if name == "" {
				return nil
			}
			continue
		}
		if strings.Contains(name, "=") {
			return nil
		}

		var matches []string
		for _, opt := range device.Options() {
			if (opt.OptionValid&cmdType) == 0 || !strings.HasPrefix(opt.Name, name) {
				continue
			}
			eq := "="
			if opt.OptionType == command.OptionSwitch || cmdType == command.ValidShow {
				eq = " "
			}
			matches = append(matches, leading+opt.Name+eq)
		}
		return matches
	}
}
