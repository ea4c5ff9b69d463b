package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emailPattern = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`

func emailPolicy(t *testing.T) *Policy {
	t.Helper()
	policy, err := NewPolicy([]Rule{
		{Kind: "email", Pattern: emailPattern, Sensitivity: "high", Method: MethodMaskAll},
	})
	require.NoError(t, err)
	return policy
}

func TestScannerScan(t *testing.T) {
	t.Run("Should redact an email with mask_all and report the finding", func(t *testing.T) {
		scanner := NewScanner(emailPolicy(t))
		redacted, findings := scanner.Scan("Contact me at a@b.com")
		assert.Equal(t, "Contact me at [EMAIL_REDACTED]", redacted)
		require.Len(t, findings, 1)
		assert.Equal(t, "email", findings[0].Kind)
		assert.Equal(t, "a@b.com", findings[0].Fragment)
		assert.NotContains(t, redacted, "a@b.com")
	})

	t.Run("Should be idempotent on already-redacted text", func(t *testing.T) {
		scanner := NewScanner(emailPolicy(t))
		once, _ := scanner.Scan("Contact me at a@b.com and c@d.org")
		twice, findings := scanner.Scan(once)
		assert.Equal(t, once, twice)
		assert.Empty(t, findings)
	})

	t.Run("Should return input unchanged when nothing matches", func(t *testing.T) {
		scanner := NewScanner(emailPolicy(t))
		redacted, findings := scanner.Scan("no personal data here")
		assert.Equal(t, "no personal data here", redacted)
		assert.Empty(t, findings)
	})

	t.Run("Should tolerate empty input", func(t *testing.T) {
		scanner := NewScanner(emailPolicy(t))
		redacted, findings := scanner.Scan("")
		assert.Empty(t, redacted)
		assert.Empty(t, findings)
	})

	t.Run("Should let the earlier-declared pattern win overlapping spans", func(t *testing.T) {
		policy, err := NewPolicy([]Rule{
			{Kind: "ssn", Pattern: `\d{3}-\d{2}-\d{4}`, Method: MethodMaskAll},
			{Kind: "digits", Pattern: `\d+`, Method: MethodMaskAll},
		})
		require.NoError(t, err)
		scanner := NewScanner(policy)
		redacted, findings := scanner.Scan("ssn 123-45-6789 ok")
		assert.Equal(t, "ssn [SSN_REDACTED] ok", redacted)
		require.Len(t, findings, 1)
		assert.Equal(t, "ssn", findings[0].Kind)
	})

	t.Run("Should suppress later matches inside an already claimed span", func(t *testing.T) {
		policy, err := NewPolicy([]Rule{
			{Kind: "phone", Pattern: `\+\d{2} \d{3} \d{4}`, Method: MethodMaskAll},
			{Kind: "digits", Pattern: `\d{4}`, Method: MethodMaskAll},
		})
		require.NoError(t, err)
		scanner := NewScanner(policy)
		redacted, findings := scanner.Scan("call +49 170 5551 or pin 9999")
		assert.Contains(t, redacted, "[PHONE_REDACTED]")
		assert.Contains(t, redacted, "[DIGITS_REDACTED]")
		assert.Len(t, findings, 2)
	})

	t.Run("Should mask_partial keeping the configured edges", func(t *testing.T) {
		policy, err := NewPolicy([]Rule{
			{Kind: "card", Pattern: `\d{16}`, Method: MethodMaskPartial, KeepPrefix: 4, KeepSuffix: 4},
		})
		require.NoError(t, err)
		scanner := NewScanner(policy)
		redacted, _ := scanner.Scan("card 4111222233334444")
		assert.Equal(t, "card 4111********4444", redacted)
	})

	t.Run("Should fully mask when mask_partial edges exceed the fragment", func(t *testing.T) {
		policy, err := NewPolicy([]Rule{
			{Kind: "pin", Pattern: `\d{4}`, Method: MethodMaskPartial, KeepPrefix: 3, KeepSuffix: 3},
		})
		require.NoError(t, err)
		scanner := NewScanner(policy)
		redacted, _ := scanner.Scan("pin 1234")
		assert.Equal(t, "pin ****", redacted)
	})

	t.Run("Should mask_middle keeping the edges", func(t *testing.T) {
		policy, err := NewPolicy([]Rule{
			{Kind: "account", Pattern: `ACCT[0-9]{8}`, Method: MethodMaskMiddle, MaskSpan: 6},
		})
		require.NoError(t, err)
		scanner := NewScanner(policy)
		redacted, _ := scanner.Scan("ref ACCT12345678")
		assert.Equal(t, "ref ACC******678", redacted)
	})

	t.Run("Should apply rules deterministically across runs", func(t *testing.T) {
		scanner := NewScanner(emailPolicy(t))
		a, _ := scanner.Scan("x a@b.com y c@d.org z")
		b, _ := scanner.Scan("x a@b.com y c@d.org z")
		assert.Equal(t, a, b)
	})
}

func TestNewPolicy(t *testing.T) {
	t.Run("Should reject invalid patterns at construction", func(t *testing.T) {
		_, err := NewPolicy([]Rule{{Kind: "bad", Pattern: `([`}})
		assert.Error(t, err)
	})

	t.Run("Should reject unknown redaction methods", func(t *testing.T) {
		_, err := NewPolicy([]Rule{{Kind: "x", Pattern: `x`, Method: "shred"}})
		assert.Error(t, err)
	})

	t.Run("Should default the method to mask_all", func(t *testing.T) {
		policy, err := NewPolicy([]Rule{{Kind: "x", Pattern: `xx`}})
		require.NoError(t, err)
		assert.Equal(t, MethodMaskAll, policy.Rules()[0].Method)
	})
}
