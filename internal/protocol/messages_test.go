package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUploadAsset(t *testing.T) {
	raw := []byte(`{"type":"upload_asset","data_base64":"AQID","mime":"image/jpeg"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	upload, ok := msg.(UploadAsset)
	if !ok {
		t.Fatalf("message type = %T, want UploadAsset", msg)
	}
	if upload.DataBase64 != "AQID" || upload.MIME != "image/jpeg" {
		t.Fatalf("unexpected upload: %+v", upload)
	}
}

func TestParseClientMessageSelectJobType(t *testing.T) {
	raw := []byte(`{"type":"select_job_type","job_type_code":"p2st"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	sel, ok := msg.(SelectJobType)
	if !ok {
		t.Fatalf("message type = %T, want SelectJobType", msg)
	}
	if sel.JobTypeCode != "p2st" {
		t.Fatalf("JobTypeCode = %q, want %q", sel.JobTypeCode, "p2st")
	}
}

func TestParseClientMessageSubmitAsFiles(t *testing.T) {
	raw := []byte(`{"type":"submit_request","as_files":true}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	submit, ok := msg.(SubmitRequest)
	if !ok {
		t.Fatalf("message type = %T, want SubmitRequest", msg)
	}
	if !submit.AsFiles {
		t.Fatalf("AsFiles = false, want true")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidUpload(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"upload_asset","data_base64":"","mime":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsEmptyJobTypeCode(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"select_job_type","job_type_code":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageUploadAsset(b *testing.B) {
	raw := []byte(`{"type":"upload_asset","data_base64":"AQIDBAUGBwgJCgsMDQ4P","mime":"image/png"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(UploadAsset); !ok {
			b.Fatalf("message type = %T, want UploadAsset", msg)
		}
	}
}
