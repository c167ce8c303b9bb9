package dto

import "encoding/json"

// Prediction is one detector output for a frame.
type Prediction struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
	Box   Box     `json:"bbox"`
}

// Box is a bounding box in frame pixels. It marshals as [x, y, width, height].
type Box struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.Width, b.Height})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	var v [4]int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	b.X, b.Y, b.Width, b.Height = v[0], v[1], v[2], v[3]
	return nil
}
