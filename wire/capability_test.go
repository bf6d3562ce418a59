package wire

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type CapabilitySuite struct {
	suite.Suite
}

func TestCapabilitySuite(t *testing.T) {
	suite.Run(t, new(CapabilitySuite))
}

func (s *CapabilitySuite) TestIsEmpty() {
	l := NewCapabilityList()
	s.True(l.IsEmpty())
}

func (s *CapabilitySuite) TestDecode() {
	l := NewCapabilityList()
	err := l.Decode([]byte("symref=HEAD:refs/heads/main thin-pack"))
	s.Require().NoError(err)

	s.True(l.Supports(ThinPack))
	s.Equal([]string{"HEAD:refs/heads/main"}, l.Get(SymRef))
}

func (s *CapabilitySuite) TestDecodeLeadingSpace() {
	l := NewCapabilityList()
	s.Require().NoError(l.Decode([]byte(" report-status")))
	s.True(l.Supports(ReportStatusCap))
}

func (s *CapabilitySuite) TestDecodeEmpty() {
	l := NewCapabilityList()
	s.Require().NoError(l.Decode(nil))
	s.True(l.IsEmpty())
}

func (s *CapabilitySuite) TestDecodeRejectsArgumentsOnBooleanCapability() {
	l := NewCapabilityList()
	err := l.Decode([]byte("thin-pack=foo"))
	s.ErrorIs(err, ErrArguments)
}

func (s *CapabilitySuite) TestDecodeEqualInValue() {
	l := NewCapabilityList()
	s.Require().NoError(l.Decode([]byte("agent=foo=bar")))
	s.Equal([]string{"foo=bar"}, l.Get(Agent))
}

func (s *CapabilitySuite) TestStringRoundTrips() {
	l := NewCapabilityList()
	s.Require().NoError(l.Add(OFSDelta))
	s.Require().NoError(l.Add(Agent, "gitcore/1.0"))

	again := NewCapabilityList()
	s.Require().NoError(again.Decode([]byte(l.String())))
	s.True(again.Supports(OFSDelta))
	s.Equal([]string{"gitcore/1.0"}, again.Get(Agent))
}
