package domain

import (
	"testing"

	cerrors "conv-core/errors"

	"github.com/stretchr/testify/require"
)

func Test_Validate_Normalizes_Private_Number(t *testing.T) {
	req := require.New(t)
	c := &Conversation{ID: "+15551234567", Kind: KindPrivate}

	req.NoError(c.Validate("US"))
	req.Equal("+15551234567", c.ID)
	req.Equal(VerificationDefault, c.Verified)

	national := &Conversation{ID: "(555) 123-4567", Kind: KindPrivate}
	req.NoError(national.Validate("US"))
	req.Equal("+15551234567", national.ID)
}

func Test_Validate_Rejects_Bad_Number(t *testing.T) {
	req := require.New(t)
	c := &Conversation{ID: "not a number", Kind: KindPrivate}

	err := c.Validate("US")
	req.Error(err)
	req.True(cerrors.IsValidation(err))
}

func Test_Validate_Rejects_Missing_Fields_And_Bad_Kind(t *testing.T) {
	req := require.New(t)

	req.True(cerrors.IsValidation((&Conversation{Kind: KindPrivate}).Validate("US")))
	req.True(cerrors.IsValidation((&Conversation{ID: "g1"}).Validate("US")))
	req.True(cerrors.IsValidation((&Conversation{ID: "g1", Kind: "broadcast"}).Validate("US")))
}

func Test_Validate_Leaves_Group_ID_Opaque(t *testing.T) {
	req := require.New(t)
	c := &Conversation{ID: "group-abc", Kind: KindGroup}

	req.NoError(c.Validate("US"))
	req.Equal("group-abc", c.ID)
}

func Test_Title_Falls_Back_By_Kind(t *testing.T) {
	req := require.New(t)

	private := &Conversation{ID: "+15551234567", Kind: KindPrivate}
	req.Equal("(555) 123-4567", private.Title("US"))

	named := &Conversation{ID: "+15551234567", Kind: KindPrivate, Name: "Alice"}
	req.Equal("Alice", named.Title("US"))

	group := &Conversation{ID: "g1", Kind: KindGroup}
	req.Equal("Unknown group", group.Title("US"))
}

func Test_Number_Formats_By_Region(t *testing.T) {
	req := require.New(t)
	c := &Conversation{ID: "+15551234567", Kind: KindPrivate}

	req.Equal("(555) 123-4567", c.Number("US"))
	req.NotEmpty(c.Number("FR"))
	req.NotEqual("(555) 123-4567", c.Number("FR"))
}

func Test_DisplayColor_Is_Stable(t *testing.T) {
	req := require.New(t)

	alice := &Conversation{ID: "+15551234567", Kind: KindPrivate, Name: "Alice"}
	req.Equal(alice.DisplayColor(), alice.DisplayColor())
	req.Contains(colors, alice.DisplayColor())

	nameless := &Conversation{ID: "+15551234567", Kind: KindPrivate}
	req.Equal("grey", nameless.DisplayColor())

	group := &Conversation{ID: "g1", Kind: KindGroup, Name: "Team"}
	req.Equal("default", group.DisplayColor())
}

func Test_Searchable_Excludes_Left_Groups_Without_Messages(t *testing.T) {
	req := require.New(t)

	req.True((&Conversation{ID: "g1", Kind: KindGroup}).Searchable())
	req.False((&Conversation{ID: "g1", Kind: KindGroup, Left: true}).Searchable())
	req.True((&Conversation{ID: "g1", Kind: KindGroup, Left: true, LastMessage: "bye"}).Searchable())
}
