package inject

import (
	"context"

	"go.viam.com/ezoph/components/board"
	"go.viam.com/ezoph/components/board/genericlinux/buses"
)

// Board is an injected board.
type Board struct {
	board.Board
	I2CNamesFunc  func() []string
	I2CByNameFunc func(name string) (buses.I2C, bool)
	CloseFunc     func(ctx context.Context) error
}

// I2CNames calls the injected I2CNames or the real version.
func (b *Board) I2CNames() []string {
	if b.I2CNamesFunc == nil {
		return b.Board.I2CNames()
	}
	return b.I2CNamesFunc()
}

// I2CByName calls the injected I2CByName or the real version.
func (b *Board) I2CByName(name string) (buses.I2C, bool) {
	if b.I2CByNameFunc == nil {
		return b.Board.I2CByName(name)
	}
	return b.I2CByNameFunc(name)
}

// Close calls the injected Close or the real version.
func (b *Board) Close(ctx context.Context) error {
	if b.CloseFunc == nil {
		if b.Board == nil {
			return nil
		}
		return b.Board.Close(ctx)
	}
	return b.CloseFunc(ctx)
}
