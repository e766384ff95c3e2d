// Package advice holds the static care guidance shown with each diagnosis.
package advice

// guidance maps a diagnosis label to the text sent to the farmer. The label
// set is owned by the checkpoint; a label missing here degrades to a
// diagnosis without guidance, never an error.
var guidance = map[string]string{
	"Tomato_Bacterial_spot":                       "🍂 โรคใบจุดแบคทีเรีย\nหลีกเลี่ยงน้ำกระเด็น ใช้สารคอปเปอร์",
	"Tomato_Early_blight":                         "🍁 โรคใบไหม้ระยะแรก\nตัดใบเป็นโรค พ่นสารป้องกันเชื้อรา",
	"Tomato_Late_blight":                          "🌧️ โรคใบไหม้ระยะท้าย\nพ่นสารป้องกันเชื้อราเร่งด่วน",
	"Tomato_Leaf_Mold":                            "🍃 โรคราน้ำค้างใบ\nลดความชื้น เพิ่มอากาศถ่ายเท",
	"Tomato_Septoria_leaf_spot":                   "⚫ โรคใบจุดเซพโทเรีย\nตัดใบและพ่นสารป้องกันเชื้อรา",
	"Tomato_Spider_mites_Two_spotted_spider_mite": "🕷️ ไรแดง\nฉีดน้ำใต้ใบ หรือใช้สารกำจัดไร",
	"Tomato__Target_Spot":                         "🎯 โรคใบจุดเป้า\nหลีกเลี่ยงน้ำขัง",
	"Tomato__Tomato_YellowLeaf__Curl_Virus":       "🌀 โรคใบหงิกเหลือง\nกำจัดแมลงหวี่ขาว",
	"Tomato_healthy":                              "✅ ต้นมะเขือเทศแข็งแรงดี",
}

// Lookup returns the guidance text for a label, or the empty string when the
// label has no registered advice.
func Lookup(label string) string {
	return guidance[label]
}
