/*
   S370 - telnet server

   Copyright 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a copy
   of this software and associated documentation files (the "Software"), to deal
   in the Software without restriction, including without limitation the rights
   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
   copies of the Software, and to permit persons to whom the Software is
   furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
   SOFTWARE.

*/

package console

import (
	"net"
)

// Telnet protocol constants.
const (
	tnIAC  byte = 255 // protocol delim
	tnDONT byte = 254 // dont
	tnDO   byte = 253 // do
	tnWONT byte = 252 // wont
	tnWILL byte = 251 // will
	tnSB   byte = 250 // sub negotiation begin
	tnBRK  byte = 243 // break
	tnSE   byte = 240 // sub negotiation end

	// Line states.

	tnStateData int = 1 + iota // normal
	tnStateIAC                 // IAC seen
	tnStateWILL                // WILL seen
	tnStateDO                  // DO seen
	tnStateDONT                // DONT seen
	tnStateWONT                // WONT seen
	tnStateSKIP                // skip next cmd
	tnStateSB                  // sub negotiation: skip until SE

	// Telnet options this console negotiates. No subnegotiation
	// (terminal type, environment) is needed for a plain serial
	// passthrough, so an SB ... SE sequence is only skipped
	// (tnStateSB), never answered.

	tnOptionBinary byte = 0 // binary data transfer
	tnOptionEcho   byte = 1 // echo
	tnOptionSGA    byte = 3 // send go ahead

	// Flags.
	tnFlagDo   uint8 = 0x01
	tnFlagDont uint8 = 0x02
	tnFlagWill uint8 = 0x04
	tnFlagWont uint8 = 0x08
)

var initString = []byte{
	tnIAC, tnWILL, tnOptionEcho,
	tnIAC, tnWILL, tnOptionSGA,
	tnIAC, tnWILL, tnOptionBinary,
}

// nvtSession is one Telnet client's negotiation state, stripped of
// the original tnState's device-routing fields (devNum, master,
// group, model, sbtype/term) since a console session always talks
// to the one Target it was created with.
type nvtSession struct {
	optionState [256]uint8
	state       int
	conn        net.Conn
	target      Target
}

func (s *nvtSession) sendOption(setState, option byte) {
	data := []byte{tnIAC, setState, option}
	_, _ = s.conn.Write(data)
	switch setState {
	case tnWILL:
		s.optionState[option] |= tnFlagWill
	case tnWONT:
		s.optionState[option] |= tnFlagWont
	case tnDO:
		s.optionState[option] |= tnFlagDo
	case tnDONT:
		s.optionState[option] |= tnFlagDont
	}
}

func (s *nvtSession) handleDO(opt byte) {
	switch opt {
	case tnOptionSGA, tnOptionEcho:
		if (s.optionState[opt] & tnFlagWill) != 0 {
			s.optionState[opt] |= tnFlagDont
		}
	case tnOptionBinary:
		if (s.optionState[opt] & tnFlagDo) == 0 {
			s.sendOption(tnDO, opt)
		}
	default:
		if (s.optionState[opt] & tnFlagWont) == 0 {
			s.sendOption(tnWONT, opt)
		}
	}
}

func (s *nvtSession) handleWILL(opt byte) {
	switch opt {
	case tnOptionSGA:
		if (s.optionState[opt] & tnFlagWill) == 0 {
			s.sendOption(tnDO, opt)
		}
	case tnOptionEcho:
		if (s.optionState[opt] & tnFlagWill) == 0 {
			s.optionState[opt] |= tnFlagWill
			s.sendOption(tnDONT, opt)
			s.sendOption(tnWONT, opt)
		}
	case tnOptionBinary:
		s.optionState[opt] |= tnFlagWill
	default:
		if (s.optionState[opt] & tnFlagDont) == 0 {
			s.sendOption(tnDONT, opt)
		}
	}
}

// run drives the NVT state machine over conn until it hits EOF or an
// error, delivering every plain data byte to target.PushInput; guest
// output is not relayed back over conn (handleClient's main loop,
// minus the 3270 SB/terminal-type branch and device lookup).
func runNVT(conn net.Conn, target Target) {
	defer conn.Close()

	s := &nvtSession{conn: conn, state: tnStateData, target: target}
	buffer := make([]byte, 1024)

	_, _ = s.conn.Write(initString)
	for {
		num, err := s.conn.Read(buffer)
		if err != nil {
			return
		}
		for i := 0; i < num; i++ {
			input := buffer[i]
			switch s.state {
			case tnStateData:
				if input == tnIAC {
					s.state = tnStateIAC
				} else {
					s.target.PushInput(input)
				}
			case tnStateIAC:
				switch input {
				case tnIAC:
					s.target.PushInput(tnIAC)
					s.state = tnStateData
				case tnBRK:
					s.state = tnStateData
				case tnWILL:
					s.state = tnStateWILL
				case tnWONT:
					s.state = tnStateWONT
				case tnDO:
					s.state = tnStateDO
				case tnDONT:
					s.state = tnStateDONT
				case tnSB:
					s.state = tnStateSB
				default:
					s.state = tnStateSKIP
				}
			case tnStateWILL:
				s.handleWILL(input)
				s.state = tnStateData
			case tnStateWONT:
				if (s.optionState[input] & tnFlagWont) == 0 {
					s.sendOption(tnWONT, input)
				}
				s.state = tnStateData
			case tnStateDO:
				s.handleDO(input)
				s.state = tnStateData
			case tnStateDONT:
				s.state = tnStateData
			case tnStateSKIP:
				s.state = tnStateData
			case tnStateSB:
				if input == tnSE {
					s.state = tnStateData
				}
			}
		}
	}
}
