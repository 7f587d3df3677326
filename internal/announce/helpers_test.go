package announce

import "cptbot/pkg/logx"

func testLogger() logx.Logger { return logx.Nop() }
