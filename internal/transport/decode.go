package transport

import "encoding/json"

func decode(body []byte, out interface{}) error {
	return json.Unmarshal(body, out)
}
