/*
 * S390 - Debug options configuration.
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

package debugconfig

import (
	"errors"
	"strings"

	config "github.com/rcornwell/S390css/config/configparser"
	dev "github.com/rcornwell/S390css/emu/device"
	ch "github.com/rcornwell/S390css/emu/sys_channel"
)

// register a device on initialize.
func init() {
	config.RegisterModel("DEBUG", config.TypeOptions, setDebug)
}

// Pass each option and its values to debug function.
func apply(debug func(string) error, options []config.Option) error {
	if len(options) == 0 {
		return errors.New("debug requires options")
	}
	for _, opt := range options {
		if opt.EqualOpt != "" {
			return errors.New("debug option can't have equals: " + opt.Name)
		}
		if err := debug(strings.ToUpper(opt.Name)); err != nil {
			return err
		}
		for _, value := range opt.Value {
			if err := debug(strings.ToUpper(*value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Enable debug options of channel subsystem or a device.
func setDebug(devNum uint16, device string, options []config.Option) error {
	if strings.ToUpper(device) == "CHANNEL" {
		return apply(ch.Debug, options)
	}

	if devNum == dev.NoDev {
		return errors.New("debug option invalid: " + device)
	}
	d, err := ch.GetDevice(devNum)
	if err != nil {
		return err
	}
	return apply(d.Debug, options)
}
