package executor

import "fmt"

var (
	errDivByZero   = fmt.Errorf("division by zero")
	errOutOfBounds = fmt.Errorf("memory access out of bounds")
)

func errUnknownOpcodeFor(opcode string) error {
	return fmt.Errorf("no arithmetic dispatch for opcode %q", opcode)
}
