package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuthorizer struct {
	mock.Mock
}

func (m *mockAuthorizer) Authorize(ta *TransportAddress) Decision {
	args := m.Called(ta)
	return args.Get(0).(Decision)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "None", DecisionNone.String())
	assert.Equal(t, "Allow", DecisionAllow.String())
	assert.Equal(t, "Deny", DecisionDeny.String())
	assert.Equal(t, "Decision(7)", Decision(7).String())
}

func TestIsNotDenied(t *testing.T) {
	ta := NewTA(TATypeUDP, "10.0.0.1", 4000)

	assert.True(t, IsNotDenied(nil, ta))
	assert.True(t, IsNotDenied(ConstantAuthorizer{Decision: DecisionNone}, ta))
	assert.True(t, IsNotDenied(ConstantAuthorizer{Decision: DecisionAllow}, ta))
	assert.False(t, IsNotDenied(ConstantAuthorizer{Decision: DecisionDeny}, ta))
}

func TestNetmaskAuthorizer(t *testing.T) {
	nm, err := NewNetmaskAuthorizer("10.128.0.0/9", DecisionDeny, DecisionNone)
	require.NoError(t, err)

	tests := []struct {
		host     string
		expected Decision
	}{
		{"10.128.0.1", DecisionDeny},
		{"10.255.255.254", DecisionDeny},
		{"10.127.255.255", DecisionNone},
		{"192.168.1.1", DecisionNone},
		{"localhost", DecisionNone},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, nm.Authorize(NewTA(TATypeUDP, tt.host, 1)))
		})
	}

	_, err = NewNetmaskAuthorizer("not-a-cidr", DecisionDeny, DecisionNone)
	assert.Error(t, err)
}

func TestSeriesAuthorizer(t *testing.T) {
	nm, err := NewNetmaskAuthorizer("10.128.0.0/9", DecisionDeny, DecisionNone)
	require.NoError(t, err)
	series := SeriesAuthorizer{nm, ConstantAuthorizer{Decision: DecisionAllow}}

	assert.Equal(t, DecisionDeny, series.Authorize(NewTA(TATypeUDP, "10.200.0.1", 1)))
	assert.Equal(t, DecisionAllow, series.Authorize(NewTA(TATypeUDP, "10.1.0.1", 1)))
	assert.Equal(t, DecisionNone, SeriesAuthorizer{}.Authorize(NewTA(TATypeUDP, "10.1.0.1", 1)))
}

func TestSeriesAuthorizer_StopsAtFirstDecision(t *testing.T) {
	ta := NewTA(TATypeUDP, "10.0.0.1", 1)

	first := &mockAuthorizer{}
	first.On("Authorize", ta).Return(DecisionNone).Once()
	second := &mockAuthorizer{}
	second.On("Authorize", ta).Return(DecisionAllow).Once()
	third := &mockAuthorizer{}

	assert.Equal(t, DecisionAllow, SeriesAuthorizer{first, second, third}.Authorize(ta))

	first.AssertExpectations(t)
	second.AssertExpectations(t)
	third.AssertNotCalled(t, "Authorize", mock.Anything)
}

func TestPortAuthorizer(t *testing.T) {
	p := PortAuthorizer{Port: 4000}
	assert.Equal(t, DecisionDeny, p.Authorize(NewTA(TATypeUDP, "10.0.0.1", 4000)))
	assert.Equal(t, DecisionNone, p.Authorize(NewTA(TATypeUDP, "10.0.0.1", 4001)))
}

func TestRandomAuthorizer(t *testing.T) {
	always := NewRandomAuthorizer(1)
	ta := NewTA(TATypeUDP, "10.0.0.1", 1)
	assert.Equal(t, DecisionDeny, always.Authorize(ta))

	never := NewRandomAuthorizer(0)
	assert.Equal(t, DecisionAllow, never.Authorize(ta))
}

func TestAuthorizerFunc(t *testing.T) {
	f := AuthorizerFunc(func(ta *TransportAddress) Decision {
		if ta.Port() == 1 {
			return DecisionDeny
		}
		return DecisionAllow
	})
	assert.False(t, IsNotDenied(f, NewTA(TATypeUDP, "10.0.0.1", 1)))
	assert.True(t, IsNotDenied(f, NewTA(TATypeUDP, "10.0.0.1", 2)))
}
