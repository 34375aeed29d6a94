package provider

import (
	"errors"
	"testing"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OrderAndToggle(t *testing.T) {
	r := NewRegistry()
	r.Register(Paystack, NewPaystack, Options{})
	r.Register(Flutterwave, NewFlutterwave, Options{})

	assert.Equal(t, []string{"paystack", "flutterwave"}, r.Enabled())

	require.NoError(t, r.Disable(Paystack))
	assert.Equal(t, []string{"flutterwave"}, r.Enabled())
	assert.True(t, r.Known(Paystack))

	_, err := r.Adapter(domain.ProviderCredential{Provider: Paystack})
	assert.True(t, errors.Is(err, ErrDisabled))

	require.NoError(t, r.Enable(Paystack))
	a, err := r.Adapter(domain.ProviderCredential{Provider: "Paystack"})
	require.NoError(t, err)
	assert.Equal(t, Paystack, a.Name())
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Adapter(domain.ProviderCredential{Provider: "stripe"})
	assert.True(t, errors.Is(err, ErrUnknownProvider))
	assert.True(t, errors.Is(r.Disable("stripe"), ErrUnknownProvider))
}

func TestBuiltin(t *testing.T) {
	_, ok := Builtin("flutterwave")
	assert.True(t, ok)
	_, ok = Builtin("stripe")
	assert.False(t, ok)
}
