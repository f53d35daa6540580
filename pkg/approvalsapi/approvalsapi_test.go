package approvalsapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestFullMethod(t *testing.T) {
	assert.Equal(t, "/docapprovals.v1.ApprovalsService/Finalize", FullMethod(MethodFinalize))
}

func TestStructCarriesNestedMessages(t *testing.T) {
	title := "Lease"
	in := EnsureAssignmentRequest{
		DocumentType:  "contract",
		DocumentID:    "c-1",
		Approvers:     []Approver{{ID: "alice"}, {ID: "bob", DisplayName: "Bob"}},
		DocumentTitle: &title,
		Metadata:      []byte(`{"amount":1200,"tags":["a"]}`),
	}

	s, err := ToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "c-1", s.Fields["document_id"].GetStringValue())
	assert.Len(t, s.Fields["approvers"].GetListValue().GetValues(), 2)

	var out EnsureAssignmentRequest
	require.NoError(t, FromStruct(s, &out))
	assert.Equal(t, in.Approvers, out.Approvers)
	require.NotNil(t, out.DocumentTitle)
	assert.Equal(t, title, *out.DocumentTitle)
	assert.JSONEq(t, string(in.Metadata), string(out.Metadata))
}

func TestFromStructRejectsWrongShape(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"approvers": "alice"})
	require.NoError(t, err)

	var out SetApproversRequest
	assert.Error(t, FromStruct(s, &out))
}
