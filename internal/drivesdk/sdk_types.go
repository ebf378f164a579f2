package drivesdk

// URIScheme is the scheme the drive server uses for file addressing,
// e.g. drive://my/Work/report.docx
const URIScheme = "drive://"

const (
	fileTypeFile = 0
	fileTypeDir  = 1
)

// apiResponse is the server's envelope for every JSON endpoint.
type apiResponse[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// RemoteFile is one file or directory in a listing.
type RemoteFile struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URI       string            `json:"path"`
	Size      int64             `json:"size"`
	UpdatedAt string            `json:"updated_at"`
	Type      int               `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (f *RemoteFile) IsDir() bool {
	return f.Type == fileTypeDir
}

type listFilesData struct {
	Files      []*RemoteFile `json:"files"`
	NextMarker string        `json:"next_marker,omitempty"`
}

// DownloadURL is a short-lived direct URL for one file.
type DownloadURL struct {
	URL string `json:"url"`
}

type downloadURLData struct {
	URLs    []DownloadURL `json:"urls"`
	Expires string        `json:"expires"`
}

// UploadSession is the server-side state of a chunked upload.
type UploadSession struct {
	SessionID string `json:"session_id"`
	ChunkSize int64  `json:"chunk_size"`
	Expires   int64  `json:"expires"`
}

// MetadataPatch sets or removes one metadata key on a file.
type MetadataPatch struct {
	Key    string  `json:"key"`
	Value  *string `json:"value,omitempty"`
	Remove bool    `json:"remove,omitempty"`
}

// SetPatch builds a patch that sets key to value.
func SetPatch(key, value string) MetadataPatch {
	return MetadataPatch{Key: key, Value: &value}
}

// RemovePatch builds a patch that removes key.
func RemovePatch(key string) MetadataPatch {
	return MetadataPatch{Key: key, Remove: true}
}

// TokenPair is the credential set returned by a successful sign-in.
type TokenPair struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	AccessExpires  string `json:"access_expires"`
	RefreshExpires string `json:"refresh_expires"`
}

type loginData struct {
	Token TokenPair `json:"token"`
}

// Captcha is a challenge image plus the ticket to echo back on sign-in.
type Captcha struct {
	Image  string `json:"image"`
	Ticket string `json:"ticket"`
}
