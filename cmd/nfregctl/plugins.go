package main

// 引入 NF 平台插件，触发各平台的 init() 完成注册
import (
	_ "github.com/nfregctl/nfregctl/addone/registration/platforms/amf"
	_ "github.com/nfregctl/nfregctl/addone/registration/platforms/smf"
)
