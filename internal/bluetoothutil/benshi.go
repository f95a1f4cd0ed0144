package bluetoothutil

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// GATT layout of the Benshi radio control service: commands go to the
// write characteristic, protocol bytes come back as indications.
var (
	radioServiceUUID  = mustParseUUID("00001100-d102-11e1-9b23-00025b00a5a5")
	radioWriteUUID    = mustParseUUID("00001101-d102-11e1-9b23-00025b00a5a5")
	radioIndicateUUID = mustParseUUID("00001102-d102-11e1-9b23-00025b00a5a5")
)

func mustParseUUID(raw string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid bluetooth UUID %q: %v", raw, err))
	}

	return uuid
}

func RadioServiceUUID() bluetooth.UUID {
	return radioServiceUUID
}

func RadioWriteUUID() bluetooth.UUID {
	return radioWriteUUID
}

func RadioIndicateUUID() bluetooth.UUID {
	return radioIndicateUUID
}
