package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembler_MovRR(t *testing.T) {
	a := NewAssembler()
	a.MovRR(RegCX, RegAX)
	require.Equal(t, []byte{0x48, 0x89, 0xc1}, a.Bytes())
}

func TestAssembler_AddQ(t *testing.T) {
	a := NewAssembler()
	a.AddQ(RegAX, RegCX)
	require.Equal(t, []byte{0x48, 0x01, 0xc8}, a.Bytes())
}

func TestAssembler_Ret(t *testing.T) {
	a := NewAssembler()
	a.Ret()
	require.Equal(t, []byte{0xc3}, a.Bytes())
}

func TestAssembler_MovImm64_PatchImm64(t *testing.T) {
	a := NewAssembler()
	off := a.MovImm64(RegAX, 0)
	require.Equal(t, []byte{0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0}, a.Bytes())

	a.PatchImm64(off, 0x1122334455667788)
	want := []byte{0x48, 0xb8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	require.Equal(t, want, a.Bytes())
}

func TestAssembler_JmpForwardLabel(t *testing.T) {
	a := NewAssembler()
	end := a.NewLabel()
	a.Jmp(end)
	a.Ret() // filler the jump skips over
	a.BindLabel(end)
	a.Ret()
	a.Finalize()

	got := a.Bytes()
	require.Len(t, got, 5+1+1)
	require.Equal(t, byte(0xe9), got[0])
	// rel32 measured from the byte after the 4-byte displacement field.
	rel := int32(got[1]) | int32(got[2])<<8 | int32(got[3])<<16 | int32(got[4])<<24
	require.EqualValues(t, 1, rel)
}

func TestAssembler_JccBackwardLabel(t *testing.T) {
	a := NewAssembler()
	top := a.NewLabel()
	a.BindLabel(top)
	a.Ret()
	a.Jcc(CondE, top)
	a.Finalize()

	got := a.Bytes()
	require.Equal(t, byte(0x0f), got[1])
	require.Equal(t, byte(0x80|CondE), got[2])
	rel := int32(got[3]) | int32(got[4])<<8 | int32(got[5])<<16 | int32(got[6])<<24
	require.EqualValues(t, -7, rel)
}

func TestAssembler_LoadStoreMem(t *testing.T) {
	a := NewAssembler()
	a.LoadQ(RegAX, Mem{Base: RegBP, Disp: -8})
	a.StoreL(Mem{Base: RegBP, Disp: -16}, RegCX)
	require.NotEmpty(t, a.Bytes())
	// mod=10 (disp32), reg=AX(0), rm=BP(5) -> 0x85
	require.Equal(t, byte(0x8b), a.Bytes()[1])
	require.Equal(t, byte(0x85), a.Bytes()[2])
}

func TestRegister_Bits3(t *testing.T) {
	bits, ext := RegR9.bits3()
	require.EqualValues(t, 1, bits)
	require.True(t, ext)

	bits, ext = RegDX.bits3()
	require.EqualValues(t, 2, bits)
	require.False(t, ext)
}
