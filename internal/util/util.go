package util

import (
	"crypto/rand"
	"fmt"
	"io"
	"io/ioutil"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nats-io/nuid"
	"github.com/pkg/errors"
	hashids "github.com/speps/go-hashids"
)

const nameSalt = "otf-assess random name generator 2021"

var (
	once      sync.Once
	netClient *http.Client
)

//
// create a singleton http client to ensure
// maximum reuse of connection; index documents can be
// large so the overall timeout is generous
//
func newNetClient() *http.Client {
	once.Do(func() {
		var netTransport = &http.Transport{
			Dial: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).Dial,
			TLSHandshakeTimeout: 5 * time.Second,
		}
		netClient = &http.Client{
			Timeout:   time.Second * 30,
			Transport: netTransport,
		}
	})

	return netClient
}

//
// generate a short useful unique name - hashid in this case
//
func GenerateName() string {

	name := "qsync"

	number0, err := rand.Int(rand.Reader, big.NewInt(10000000))
	if err != nil {
		log.Warnf("error generating random name seed: %s", err)
		return name
	}

	enc, err := NewTokenEncoder(nameSalt)
	if err != nil {
		log.Warnf("error auto-generating name: %s", err)
		return name
	}

	return enc.Encode(number0.Int64())

}

//
// generate a unique id - nuid in this case
// used for service ids and sync pass ids
//
func GenerateID() string {

	return nuid.Next()

}

//
// TokenEncoder renders numeric surrogate ids as short,
// non-sequential looking tokens for display
//
type TokenEncoder struct {
	h *hashids.HashID
}

func NewTokenEncoder(salt string) (*TokenEncoder, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = 5
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create token encoder")
	}
	return &TokenEncoder{h: h}, nil
}

//
// Encode returns the token for id; negative ids
// cannot be encoded and yield an empty token
//
func (t *TokenEncoder) Encode(id int64) string {
	if id < 0 {
		return ""
	}
	tok, err := t.h.EncodeInt64([]int64{id})
	if err != nil {
		return ""
	}
	return tok
}

//
// Makes network calls to content servers to retrieve
// assessment index documents, and returns the response payload as bytes
// along with the Last-Modified time reported by the server (zero if absent)
//
// method - http method to invoke (post/put/get etc.)
// header - map of headers to include in request
// body - reader for any content to supply as request body
//
func Fetch(method string, url string, header map[string]string, body io.Reader) ([]byte, time.Time, error) {

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(err, "cannot build Fetch request")
	}

	for key, value := range header {
		req.Header.Add(key, value)
	}

	res, err := newNetClient().Do(req)
	if err != nil {
		return nil, time.Time{}, errors.Wrapf(err, "cannot fetch %s", url)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, time.Time{}, errors.New(fmt.Sprintf("Network call failed with response: %d", res.StatusCode))
	}

	respByte, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, time.Time{}, errors.Wrap(err, "cannot read Fetch response")
	}

	var lastModified time.Time
	if lm := res.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			lastModified = t
		}
	}

	return respByte, lastModified, nil
}

//
// small utility function embedded in major ops
// to log a performance indicator.
//
func TimeTrack(l *log.Logger, start time.Time, name string) {
	elapsed := time.Since(start)
	if l == nil {
		log.Infof("%s took %s", name, elapsed.Truncate(time.Millisecond).String())
		return
	}
	l.Infof("%s took %s", name, elapsed.Truncate(time.Millisecond).String())
}

//
// find an available tcp port
//
func AvailablePort() (int, error) {

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, errors.Wrap(err, "cannot acquire a tcp port")
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil

}
