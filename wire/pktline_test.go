package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"
)

type PktLineSuite struct {
	suite.Suite
}

func TestPktLineSuite(t *testing.T) {
	suite.Run(t, new(PktLineSuite))
}

func (s *PktLineSuite) TestWriteReadRoundTrip() {
	var buf bytes.Buffer
	_, err := WritePacketString(&buf, "hello\n")
	s.Require().NoError(err)

	s.Equal("000ahello\n", buf.String())

	l, p, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal(10, l)
	s.Equal("hello\n", string(p))
}

func (s *PktLineSuite) TestFlushPkt() {
	var buf bytes.Buffer
	s.Require().NoError(WriteFlush(&buf))
	s.Equal("0000", buf.String())

	l, p, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal(FlushLen, l)
	s.Nil(p)
}

func (s *PktLineSuite) TestDelimPkt() {
	var buf bytes.Buffer
	s.Require().NoError(WriteDelim(&buf))
	l, p, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal(DelimLen, l)
	s.Nil(p)
}

func (s *PktLineSuite) TestParseLengthRecognizesResponseEnd() {
	n, err := ParseLength([]byte("0002extra"))
	s.Require().NoError(err)
	s.Equal(ResponseEndLen, n)
}

func (s *PktLineSuite) TestParseLengthRejectsUndersizedHeader() {
	_, err := ParseLength([]byte("0004"))
	s.Error(err)
}

func (s *PktLineSuite) TestErrorLine() {
	var buf bytes.Buffer
	_, err := WriteErrorPacket(&buf, "access denied")
	s.Require().NoError(err)

	_, _, err = ReadPacket(&buf)
	s.Require().Error(err)
	var el ErrorLine
	s.Require().ErrorAs(err, &el)
	s.Equal("access denied\n", el.Text)
}

func (s *PktLineSuite) TestWriterMethods() {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	s.Require().NoError(w.WriteFlush())

	l, _, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal(FlushLen, l)
}

func (s *PktLineSuite) TestPeekPacketDoesNotConsume() {
	var buf bytes.Buffer
	_, err := WritePacketString(&buf, "peek me\n")
	s.Require().NoError(err)

	br := bufio.NewReader(&buf)
	l, p, err := PeekPacket(br)
	s.Require().NoError(err)
	s.Equal("peek me\n", string(p))
	s.Equal(len("peek me\n")+lenSize, l)

	_, p2, err := ReadPacket(br)
	s.Require().NoError(err)
	s.Equal("peek me\n", string(p2))
}

func (s *PktLineSuite) TestMultiplePacketsSequentially() {
	var buf bytes.Buffer
	_, _ = WritePacketString(&buf, "one\n")
	_, _ = WritePacketString(&buf, "two\n")
	_ = WriteFlush(&buf)

	_, p1, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal("one\n", string(p1))

	_, p2, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal("two\n", string(p2))

	l, _, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal(FlushLen, l)
}
