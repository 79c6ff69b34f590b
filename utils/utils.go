package utils

import (
	"io"
	"net/http"
	"os"

	"github.com/ansel1/merry"
)

// Env selects the CIS environment: "educ" (test endpoint) or "prod".
type Env struct {
	Val string
}

func (e *Env) Set(name string) error {
	if name != "educ" && name != "prod" {
		return merry.New("must be 'educ' or 'prod'")
	}
	e.Val = name
	return nil
}

func (e Env) String() string {
	return e.Val
}

func (e Env) Type() string {
	return "string"
}

func (e Env) IsEduc() bool {
	return e.Val == "educ"
}

func (e Env) IsProd() bool {
	return e.Val == "prod"
}

func MakeConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", merry.Wrap(err)
	}
	dir = dir + "/receipt_fiscalizer"
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", merry.Wrap(err)
	}
	return dir, nil
}

// GetHTTPBody performs the request and reads the whole response body.
func GetHTTPBody(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, merry.Wrap(err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, merry.Wrap(err)
	}
	return resp, buf, nil
}
